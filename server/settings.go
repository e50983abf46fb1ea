package server

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type ConnectionSettings struct {
	// a pending window is flushed at least this often
	FlushInterval time.Duration
	// an empty binary message is sent when the connection has been idle this long
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// inbound transport messages larger than this are dropped
	MaxMessageByteCount ByteCount
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		FlushInterval:       50 * time.Millisecond,
		PingTimeout:         1 * time.Second,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         15 * time.Second,
		MaxMessageByteCount: mib(64),
	}
}

type FileTransferSettings struct {
	ChunkByteCount  ByteCount
	WindowByteCount ByteCount
	// larger uploads are refused at start
	MaxUploadByteCount ByteCount
}

func DefaultFileTransferSettings() *FileTransferSettings {
	return &FileTransferSettings{
		ChunkByteCount:     kib(64),
		WindowByteCount:    kib(512),
		MaxUploadByteCount: mib(256),
	}
}

type TransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
	// allowed browser origins, empty allows any
	AllowedOrigins []string
}

func DefaultTransportSettings() *TransportSettings {
	return &TransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReadBufferSize:     int(kib(16)),
		WriteBufferSize:    int(kib(16)),
	}
}

type ServerSettings struct {
	ListenAddress string
	// hs256 secret for client tokens. Empty disables auth.
	JwtSecret    string
	Connection   *ConnectionSettings
	FileTransfer *FileTransferSettings
	Transport    *TransportSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		ListenAddress: ":8080",
		Connection:    DefaultConnectionSettings(),
		FileTransfer:  DefaultFileTransferSettings(),
		Transport:     DefaultTransportSettings(),
	}
}

// LoadServerSettings overlays a toml file on the defaults.
// Durations are strings, e.g. `flush_interval = "20ms"`.
func LoadServerSettings(path string) (*ServerSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseServerSettings(data)
}

func ParseServerSettings(data []byte) (*ServerSettings, error) {
	var file serverSettingsFile
	meta, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := meta.Undecoded(); 0 < len(undecoded) {
		return nil, fmt.Errorf("unknown settings: %v", undecoded)
	}

	settings := DefaultServerSettings()
	if file.ListenAddress != nil {
		settings.ListenAddress = *file.ListenAddress
	}
	if file.JwtSecret != nil {
		settings.JwtSecret = *file.JwtSecret
	}
	c := file.Connection
	setDuration(&settings.Connection.FlushInterval, c.FlushInterval)
	setDuration(&settings.Connection.PingTimeout, c.PingTimeout)
	setDuration(&settings.Connection.WriteTimeout, c.WriteTimeout)
	setDuration(&settings.Connection.ReadTimeout, c.ReadTimeout)
	setByteCount(&settings.Connection.MaxMessageByteCount, c.MaxMessageByteCount)
	f := file.FileTransfer
	setByteCount(&settings.FileTransfer.ChunkByteCount, f.ChunkByteCount)
	setByteCount(&settings.FileTransfer.WindowByteCount, f.WindowByteCount)
	setByteCount(&settings.FileTransfer.MaxUploadByteCount, f.MaxUploadByteCount)
	t := file.Transport
	setDuration(&settings.Transport.WsHandshakeTimeout, t.WsHandshakeTimeout)
	setDuration(&settings.Transport.AuthTimeout, t.AuthTimeout)
	if t.AllowedOrigins != nil {
		settings.Transport.AllowedOrigins = t.AllowedOrigins
	}

	if settings.FileTransfer.ChunkByteCount <= 0 {
		return nil, fmt.Errorf("file_transfer.chunk_byte_count must be positive")
	}
	if settings.FileTransfer.WindowByteCount < settings.FileTransfer.ChunkByteCount {
		return nil, fmt.Errorf("file_transfer.window_byte_count must be at least one chunk")
	}
	if settings.FileTransfer.MaxUploadByteCount < 0 {
		return nil, fmt.Errorf("file_transfer.max_upload_byte_count must not be negative")
	}
	if settings.Connection.FlushInterval <= 0 {
		return nil, fmt.Errorf("connection.flush_interval must be positive")
	}
	return settings, nil
}

type serverSettingsFile struct {
	ListenAddress *string `toml:"listen_address"`
	JwtSecret     *string `toml:"jwt_secret"`
	Connection    struct {
		FlushInterval       *time.Duration `toml:"flush_interval"`
		PingTimeout         *time.Duration `toml:"ping_timeout"`
		WriteTimeout        *time.Duration `toml:"write_timeout"`
		ReadTimeout         *time.Duration `toml:"read_timeout"`
		MaxMessageByteCount *int64         `toml:"max_message_byte_count"`
	} `toml:"connection"`
	FileTransfer struct {
		ChunkByteCount     *int64 `toml:"chunk_byte_count"`
		WindowByteCount    *int64 `toml:"window_byte_count"`
		MaxUploadByteCount *int64 `toml:"max_upload_byte_count"`
	} `toml:"file_transfer"`
	Transport struct {
		WsHandshakeTimeout *time.Duration `toml:"ws_handshake_timeout"`
		AuthTimeout        *time.Duration `toml:"auth_timeout"`
		AllowedOrigins     []string       `toml:"allowed_origins"`
	} `toml:"transport"`
}

func setDuration(target *time.Duration, value *time.Duration) {
	if value != nil {
		*target = *value
	}
}

func setByteCount(target *ByteCount, value *int64) {
	if value != nil {
		*target = *value
	}
}

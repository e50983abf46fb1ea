package server

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
)

var ErrTransferCanceled = errors.New("transfer canceled")

// Unicaster delivers a message to one connection.
type Unicaster interface {
	Unicast(connectionId Id, message protocol.Message) error
}

type FileDownload struct {
	Filename        string
	MimeType        string
	Content         []byte
	SaveImmediately bool
}

type UploadedFile struct {
	SourceComponentUuid string
	TransferUuid        string
	Name                string
	MimeType            string
	Content             []byte
}

type UploadFunction func(connectionId Id, file *UploadedFile)

// splitParts cuts content into chunks. Empty content has no parts.
func splitParts(content []byte, chunkByteCount ByteCount) [][]byte {
	parts := [][]byte{}
	for i := ByteCount(0); i < ByteCount(len(content)); i += chunkByteCount {
		end := min(i+chunkByteCount, ByteCount(len(content)))
		parts = append(parts, content[i:end])
	}
	return parts
}

// DownloadTransfer sends one payload to one client.
// Parts are released while the unacknowledged byte count stays within the window.
type DownloadTransfer struct {
	transferUuid string
	connectionId Id
	parts        [][]byte
	totalBytes   ByteCount

	// guarded by the manager state lock
	nextPart   int
	sentBytes  ByteCount
	ackedBytes ByteCount
	// high water mark of sent - acked
	maxInFlightBytes ByteCount
	err              error

	done     chan struct{}
	doneOnce sync.Once
}

func (self *DownloadTransfer) TransferUuid() string {
	return self.transferUuid
}

func (self *DownloadTransfer) Done() <-chan struct{} {
	return self.done
}

// Wait blocks until the client acknowledges every byte or the transfer is canceled.
func (self *DownloadTransfer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.done:
		return self.err
	}
}

func (self *DownloadTransfer) complete(err error) {
	self.doneOnce.Do(func() {
		self.err = err
		close(self.done)
	})
}

type uploadTransfer struct {
	connectionId Id
	start        *protocol.FileTransferStartUpload
	// part index -> content
	parts         map[int][]byte
	receivedBytes ByteCount
}

// FileTransferManager runs the chunked file transfer flows in both directions.
type FileTransferManager struct {
	stateLock sync.Mutex

	unicaster Unicaster
	settings  *FileTransferSettings

	// transfer uuid -> transfer
	downloads map[string]*DownloadTransfer
	uploads   map[string]*uploadTransfer
	// finished transfer uuid -> connection id. Late messages for these are ignored.
	finished map[string]Id

	uploadCallbacks *CallbackList[UploadFunction]
}

func NewFileTransferManagerWithDefaults(unicaster Unicaster) *FileTransferManager {
	return NewFileTransferManager(unicaster, DefaultFileTransferSettings())
}

func NewFileTransferManager(unicaster Unicaster, settings *FileTransferSettings) *FileTransferManager {
	return &FileTransferManager{
		unicaster:       unicaster,
		settings:        settings,
		downloads:       map[string]*DownloadTransfer{},
		uploads:         map[string]*uploadTransfer{},
		finished:        map[string]Id{},
		uploadCallbacks: NewCallbackList[UploadFunction](),
	}
}

func (self *FileTransferManager) AddUploadCallback(uploadCallback UploadFunction) func() {
	callbackId := self.uploadCallbacks.Add(uploadCallback)
	return func() {
		self.uploadCallbacks.Remove(callbackId)
	}
}

// Download starts sending `download` to a client.
func (self *FileTransferManager) Download(connectionId Id, download *FileDownload) (*DownloadTransfer, error) {
	parts := splitParts(download.Content, self.settings.ChunkByteCount)
	transfer := &DownloadTransfer{
		transferUuid: NewId().String(),
		connectionId: connectionId,
		parts:        parts,
		totalBytes:   ByteCount(len(download.Content)),
		done:         make(chan struct{}),
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	err := self.unicaster.Unicast(connectionId, &protocol.FileTransferStartDownload{
		SaveImmediately: download.SaveImmediately,
		TransferUuid:    transfer.transferUuid,
		Filename:        download.Filename,
		MimeType:        download.MimeType,
		PartCount:       len(parts),
		SizeBytes:       transfer.totalBytes,
	})
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[ft]download %s -> %s (%d bytes, %d parts)\n", transfer.transferUuid, connectionId, transfer.totalBytes, len(parts))

	if len(parts) == 0 {
		self.finished[transfer.transferUuid] = connectionId
		transfer.complete(nil)
		return transfer, nil
	}
	self.downloads[transfer.transferUuid] = transfer
	self.pump(transfer)
	return transfer, nil
}

// pump sends parts while they fit in the window. At least one part is always in flight.
// must be called with the state lock
func (self *FileTransferManager) pump(transfer *DownloadTransfer) {
	for transfer.nextPart < len(transfer.parts) {
		part := transfer.parts[transfer.nextPart]
		inFlightBytes := transfer.sentBytes - transfer.ackedBytes
		if 0 < inFlightBytes && self.settings.WindowByteCount < inFlightBytes+ByteCount(len(part)) {
			return
		}
		err := self.unicaster.Unicast(transfer.connectionId, &protocol.FileTransferPart{
			TransferUuid: transfer.transferUuid,
			PartIndex:    transfer.nextPart,
			Content:      part,
		})
		if err != nil {
			glog.Infof("[ft]download %s part %d error = %s\n", transfer.transferUuid, transfer.nextPart, err)
			self.finishDownload(transfer, err)
			return
		}
		transfer.nextPart += 1
		transfer.sentBytes += ByteCount(len(part))
		transfer.maxInFlightBytes = max(transfer.maxInFlightBytes, transfer.sentBytes-transfer.ackedBytes)
	}
}

// must be called with the state lock
func (self *FileTransferManager) finishDownload(transfer *DownloadTransfer, err error) {
	delete(self.downloads, transfer.transferUuid)
	self.finished[transfer.transferUuid] = transfer.connectionId
	transfer.complete(err)
}

// HandleAck advances a download. Acks carry the cumulative transferred byte count.
func (self *FileTransferManager) HandleAck(connectionId Id, ack *protocol.FileTransferPartAck) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	transfer, ok := self.downloads[ack.TransferUuid]
	if !ok || transfer.connectionId != connectionId {
		if _, ok := self.finished[ack.TransferUuid]; ok {
			glog.V(2).Infof("[ft]late ack %s\n", ack.TransferUuid)
		} else {
			glog.Warningf("[ft]ack for unknown transfer %s from %s\n", ack.TransferUuid, connectionId)
		}
		return
	}
	if transfer.sentBytes < ack.TransferredBytes {
		glog.Warningf("[ft]ack %s for %d bytes but %d sent\n", ack.TransferUuid, ack.TransferredBytes, transfer.sentBytes)
		return
	}
	transfer.ackedBytes = max(transfer.ackedBytes, ack.TransferredBytes)
	if transfer.ackedBytes == transfer.totalBytes {
		glog.V(1).Infof("[ft]download %s complete\n", transfer.transferUuid)
		self.finishDownload(transfer, nil)
		return
	}
	self.pump(transfer)
}

// HandleStartUpload registers the reassembly buffer for an upload.
func (self *FileTransferManager) HandleStartUpload(connectionId Id, start *protocol.FileTransferStartUpload) {
	if start.PartCount < 0 || start.SizeBytes < 0 {
		glog.Warningf("[ft]upload %s has invalid size %d / %d parts\n", start.TransferUuid, start.SizeBytes, start.PartCount)
		return
	}
	if self.settings.MaxUploadByteCount < start.SizeBytes {
		glog.Warningf("[ft]upload %s of %d bytes exceeds the limit of %d. Dropping.\n", start.TransferUuid, start.SizeBytes, self.settings.MaxUploadByteCount)
		return
	}
	// every part carries at least one byte
	if ByteCount(start.PartCount) > start.SizeBytes || (0 < start.SizeBytes && start.PartCount == 0) {
		glog.Warningf("[ft]upload %s has %d parts for %d bytes. Dropping.\n", start.TransferUuid, start.PartCount, start.SizeBytes)
		return
	}

	var uploadedFile *UploadedFile
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.finished[start.TransferUuid]; ok {
			glog.V(2).Infof("[ft]late start %s\n", start.TransferUuid)
			return
		}
		if _, ok := self.uploads[start.TransferUuid]; ok {
			glog.Warningf("[ft]upload %s restarted\n", start.TransferUuid)
		}
		upload := &uploadTransfer{
			connectionId: connectionId,
			start:        start,
			parts:        map[int][]byte{},
		}
		self.uploads[start.TransferUuid] = upload
		glog.V(1).Infof("[ft]upload %s <- %s (%d bytes, %d parts)\n", start.TransferUuid, connectionId, start.SizeBytes, start.PartCount)
		if start.PartCount == 0 {
			uploadedFile = self.finishUpload(upload)
		}
	}()

	if uploadedFile != nil {
		self.notifyUpload(connectionId, uploadedFile)
	}
}

// HandlePart stores one upload part and acks the cumulative received byte count.
// Parts may arrive in any order. A duplicate index overwrites the earlier part.
func (self *FileTransferManager) HandlePart(connectionId Id, part *protocol.FileTransferPart) {
	var uploadedFile *UploadedFile
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		upload, ok := self.uploads[part.TransferUuid]
		if !ok || upload.connectionId != connectionId {
			if _, ok := self.finished[part.TransferUuid]; ok {
				glog.V(2).Infof("[ft]late part %s[%d]\n", part.TransferUuid, part.PartIndex)
			} else {
				glog.Warningf("[ft]part for unknown transfer %s from %s\n", part.TransferUuid, connectionId)
			}
			return
		}
		if part.PartIndex < 0 || upload.start.PartCount <= part.PartIndex {
			glog.Warningf("[ft]part index %d out of range for %s (%d parts)\n", part.PartIndex, part.TransferUuid, upload.start.PartCount)
			return
		}

		receivedBytes := upload.receivedBytes + ByteCount(len(part.Content))
		if previous, ok := upload.parts[part.PartIndex]; ok {
			receivedBytes -= ByteCount(len(previous))
		}
		if upload.start.SizeBytes < receivedBytes {
			glog.Warningf("[ft]upload %s exceeds its declared %d bytes. Dropping.\n", part.TransferUuid, upload.start.SizeBytes)
			delete(self.uploads, part.TransferUuid)
			self.finished[part.TransferUuid] = upload.connectionId
			return
		}
		upload.parts[part.PartIndex] = part.Content
		upload.receivedBytes = receivedBytes

		err := self.unicaster.Unicast(connectionId, &protocol.FileTransferPartAck{
			SourceComponentUuid: upload.start.SourceComponentUuid,
			TransferUuid:        part.TransferUuid,
			TransferredBytes:    upload.receivedBytes,
			TotalBytes:          upload.start.SizeBytes,
		})
		if err != nil {
			glog.Infof("[ft]ack %s error = %s\n", part.TransferUuid, err)
		}

		if len(upload.parts) == upload.start.PartCount {
			uploadedFile = self.finishUpload(upload)
		}
	}()

	if uploadedFile != nil {
		self.notifyUpload(connectionId, uploadedFile)
	}
}

// must be called with the state lock
func (self *FileTransferManager) finishUpload(upload *uploadTransfer) *UploadedFile {
	delete(self.uploads, upload.start.TransferUuid)
	self.finished[upload.start.TransferUuid] = upload.connectionId

	content := make([]byte, 0, upload.receivedBytes)
	for i := 0; i < upload.start.PartCount; i += 1 {
		content = append(content, upload.parts[i]...)
	}
	if ByteCount(len(content)) != upload.start.SizeBytes {
		glog.Warningf("[ft]upload %s has %d bytes, expected %d. Dropping.\n", upload.start.TransferUuid, len(content), upload.start.SizeBytes)
		return nil
	}
	glog.V(1).Infof("[ft]upload %s complete\n", upload.start.TransferUuid)
	return &UploadedFile{
		SourceComponentUuid: upload.start.SourceComponentUuid,
		TransferUuid:        upload.start.TransferUuid,
		Name:                upload.start.Filename,
		MimeType:            upload.start.MimeType,
		Content:             content,
	}
}

func (self *FileTransferManager) notifyUpload(connectionId Id, uploadedFile *UploadedFile) {
	for _, uploadCallback := range self.uploadCallbacks.Get() {
		HandleError(func() {
			uploadCallback(connectionId, uploadedFile)
		})
	}
}

// Release cancels every transfer of a connection.
func (self *FileTransferManager) Release(connectionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for transferUuid, transfer := range self.downloads {
		if transfer.connectionId == connectionId {
			delete(self.downloads, transferUuid)
			transfer.complete(ErrTransferCanceled)
		}
	}
	for transferUuid, upload := range self.uploads {
		if upload.connectionId == connectionId {
			delete(self.uploads, transferUuid)
		}
	}
	for transferUuid, finishedConnectionId := range self.finished {
		if finishedConnectionId == connectionId {
			delete(self.finished, transferUuid)
		}
	}
}

// InFlightByteCount returns the unacknowledged and the high water unacknowledged byte counts of a download.
func (self *FileTransferManager) InFlightByteCount(transfer *DownloadTransfer) (ByteCount, ByteCount) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return transfer.sentBytes - transfer.ackedBytes, transfer.maxInFlightBytes
}

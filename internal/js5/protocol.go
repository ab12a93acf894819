// Package js5 implements the update protocol used by the client to download
// versioned game data, one (archive, group) pair at a time.
package js5

import (
	"errors"
	"fmt"

	"github.com/dcrodman/lodestone/internal/core/buffer"
)

// Request types sent by the client. Only the first two ask for data.
const (
	TypeRequest         = 0
	TypePriorityRequest = 1
	TypeLoggedIn        = 2
	TypeLoggedOut       = 3
	TypeEncryption      = 4
	TypeInitiating      = 6
	TypeTerminate       = 7
)

// MasterIndex is the archive and group id that address the checksum table of
// every archive.
const MasterIndex = 255

const (
	recordSize   = 4
	headerSize   = 8
	chunkSize    = 512
	chunkMarker  = 0xFF
	groupHeader  = 5
	compressTail = 4
)

// ErrCollaboratorFailure wraps every error produced while loading a group.
var ErrCollaboratorFailure = errors.New("asset fetch failed")

// Request addresses one group.
type Request struct {
	Type    uint8
	Archive uint8
	Group   uint16
}

// Priority reports whether the client asked for this group ahead of the others.
func (r Request) Priority() bool { return r.Type == TypePriorityRequest }

// ParseRequests splits data into 4 byte records and returns the data requests
// among them. Records of any other type are skipped. Bytes of a trailing partial
// record are returned as rest and must be prepended to the next read.
func ParseRequests(data []byte) (requests []Request, rest []byte) {
	whole := len(data) - len(data)%recordSize
	b := buffer.Wrap(data[:whole])
	for b.Available() > 0 {
		typ := b.ReadUint8()
		switch typ {
		case TypeRequest, TypePriorityRequest:
			requests = append(requests, Request{
				Type:    typ,
				Archive: b.ReadUint8(),
				Group:   b.ReadUint16(),
			})
		default:
			b.Seek(recordSize - 1)
		}
	}
	if whole < len(data) {
		rest = append([]byte(nil), data[whole:]...)
	}
	return requests, rest
}

// EncodeResponse frames a group for the client. The master index is sent verbatim
// after a 3 byte header. Every other group is sent with an 8 byte header and a
// marker byte at each 512 byte boundary of the response.
func EncodeResponse(req Request, file []byte) ([]byte, error) {
	if req.Archive == MasterIndex && req.Group == MasterIndex {
		return buffer.Alloc(3 + len(file)).
			WriteUint8(req.Archive).
			WriteUint16(req.Group).
			WriteBytes(file).
			Bytes(), nil
	}

	if len(file) < groupHeader {
		return nil, fmt.Errorf("%w: group %d/%d is only %d bytes", ErrCollaboratorFailure, req.Archive, req.Group, len(file))
	}
	compression := file[0]
	length := buffer.Wrap(file[1:groupHeader]).ReadUint32()
	realLength := int(length)
	if compression != 0 {
		realLength += compressTail
	}
	if groupHeader+realLength > len(file) {
		return nil, fmt.Errorf("%w: group %d/%d declares %d bytes but holds %d",
			ErrCollaboratorFailure, req.Archive, req.Group, realLength, len(file)-groupHeader)
	}

	settings := compression
	if req.Type == TypeRequest {
		settings |= 0x80
	}

	b := buffer.Alloc(headerSize + realLength + realLength/(chunkSize-1) + 1).
		WriteUint8(req.Archive).
		WriteUint16(req.Group).
		WriteUint8(settings).
		WriteUint32(length)

	payload := file[groupHeader : groupHeader+realLength]
	for len(payload) > 0 {
		if b.Offset()%chunkSize == 0 {
			b.WriteUint8(chunkMarker)
		}
		n := chunkSize - b.Offset()%chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		b.WriteBytes(payload[:n])
		payload = payload[n:]
	}
	return b.Bytes(), nil
}

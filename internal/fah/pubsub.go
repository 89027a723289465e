package fah

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/nerrad567/gray-logic-fah/internal/fah/secure"
	"github.com/nerrad567/gray-logic-fah/internal/fah/wire"
	"github.com/nerrad567/gray-logic-fah/internal/fah/xmpp"
)

// maxUpdateSize bounds a decompressed update message.
const maxUpdateSize = 16 << 20

// handlePubSub receives pub-sub items from the stream. Only the first
// <data/> of an item carries the update.
func (s *Session) handlePubSub(items []xmpp.PubSubItem) {
	for _, item := range items {
		if len(item.Data) == 0 {
			continue
		}

		var message string
		switch item.Node {
		case NodeUpdate:
			message = item.Data[0]
		case NodeUpdateEncrypted:
			s.mu.Lock()
			engine := s.engine
			s.mu.Unlock()
			if engine == nil {
				s.updatesDropped.Add(1)
				s.logDebug("encrypted update before handshake, dropping", "id", item.ID)
				continue
			}
			decoded, err := s.decodeUpdate(engine, item.Data[0])
			if err != nil {
				// A bad sequence number or payload loses this message only.
				s.updatesDropped.Add(1)
				s.logWarn("dropping encrypted update", "id", item.ID, "error", err)
				continue
			}
			message = decoded
		default:
			continue
		}
		s.handleUpdate(message)
	}
}

// decodeUpdate opens an encrypted update: secretbox, then a big-endian
// uncompressed length, then a zlib stream of the XML.
func (s *Session) decodeUpdate(engine *secure.Engine, payload string) (string, error) {
	plain, err := engine.DecryptPubSub(payload)
	if err != nil {
		return "", err
	}

	r := wire.NewReader(plain)
	length, err := r.ReadUint32BE()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpdateDecode, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(r.Rest()))
	if err != nil {
		return "", fmt.Errorf("%w: zlib: %w", ErrUpdateDecode, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxUpdateSize))
	if err != nil {
		return "", fmt.Errorf("%w: zlib: %w", ErrUpdateDecode, err)
	}
	if len(data) != int(length) {
		s.logInfo("unexpected uncompressed update length", "have", len(data), "expected", length)
	}
	return string(data), nil
}

// handleUpdate passes message to the update handlers, then to the devices.
func (s *Session) handleUpdate(message string) {
	s.updatesReceived.Add(1)
	s.lastUpdate.Store(s.now().UnixNano())

	s.handlersMu.RLock()
	handlers := append([]func(string){}, s.handlers...)
	s.handlersMu.RUnlock()
	for _, h := range handlers {
		h(message)
	}

	if err := s.registry.Update(message); err != nil {
		s.logWarn("invalid update message", "error", err)
	}
}

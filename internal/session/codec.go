// Package session decodes, validates and re-encodes authenticated browser
// session snapshots: base64 text, optionally gzip-compressed, holding a
// cookies-and-origins storage state document.
package session

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ino-taku/mf-importer/internal/browser"
	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/validation"
)

// maxDecompressed bounds gunzip output.
const maxDecompressed = 32 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// State is a storage state document: cookies plus localStorage per origin.
type State struct {
	Cookies []browser.Cookie `json:"cookies" validate:"dive"`
	Origins []Origin         `json:"origins" validate:"dive"`
}

// Origin holds the localStorage entries of one origin.
type Origin struct {
	Origin       string                `json:"origin" validate:"required,url"`
	LocalStorage []browser.StorageItem `json:"localStorage"`
}

var stateValidator = validation.NewStructValidator("json")

// Decode turns a snapshot into a validated State. Every failure is a
// MalformedSessionState error.
func Decode(snapshot string) (*State, error) {
	text := strings.TrimSpace(snapshot)
	if text == "" {
		return nil, apperrors.NewMalformedSessionError("snapshot is empty", nil)
	}

	raw, err := decodeBase64(text)
	if err != nil {
		return nil, apperrors.NewMalformedSessionError("snapshot is not valid base64", err)
	}

	if bytes.HasPrefix(raw, gzipMagic) {
		raw, err = gunzip(raw)
		if err != nil {
			return nil, apperrors.NewMalformedSessionError("snapshot gzip stream is corrupt", err)
		}
	}

	// a bare null or an object without a cookies list carries no session
	if body := bytes.TrimLeft(raw, " \t\r\n"); len(body) == 0 || body[0] != '{' {
		return nil, apperrors.NewMalformedSessionError("snapshot is not a storage state object", nil)
	}

	var state State
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&state); err != nil {
		return nil, apperrors.NewMalformedSessionError("snapshot is not a storage state document", err)
	}
	if dec.More() {
		return nil, apperrors.NewMalformedSessionError("snapshot has trailing data", nil)
	}

	var shape struct {
		Cookies json.RawMessage `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil || len(shape.Cookies) == 0 || string(shape.Cookies) == "null" {
		return nil, apperrors.NewMalformedSessionError("snapshot has no cookies list", err)
	}

	if err := stateValidator.Struct(&state); err != nil {
		return nil, apperrors.NewMalformedSessionError("snapshot failed validation", err)
	}
	return &state, nil
}

// Encode serializes state, gzip-compressing it first when compress is set.
func Encode(state *State, compress bool) (string, error) {
	if state == nil {
		state = &State{}
	}
	normalized := *state
	if normalized.Cookies == nil {
		normalized.Cookies = []browser.Cookie{}
	}
	if normalized.Origins == nil {
		normalized.Origins = []Origin{}
	}

	raw, err := json.Marshal(&normalized)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session state: %w", err)
	}

	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return "", fmt.Errorf("failed to compress session state: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("failed to compress session state: %w", err)
		}
		raw = buf.Bytes()
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeBase64 accepts padded and unpadded standard and URL alphabets.
func decodeBase64(text string) ([]byte, error) {
	text = strings.Join(strings.Fields(text), "")

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		raw, err := enc.DecodeString(text)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressed {
		return nil, fmt.Errorf("decompressed snapshot exceeds %d bytes", maxDecompressed)
	}
	return out, nil
}

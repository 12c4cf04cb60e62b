package download

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// Built-in codec ids.
const (
	CodecJSON = 1
	CodecHTML = 2
)

// DecodeFunc turns a response body into text and a decoded value.
// label is the charset requested by the caller; empty means detect it.
type DecodeFunc func(body []byte, contentType, label string) (text string, decoded any, err error)

// Codec decodes the bodies of some content types.
type Codec struct {
	ID           int
	Name         string
	ContentTypes []string
	Decode       DecodeFunc
}

// CodecRegistry finds the codec for a response by id, name or content
// type. It is safe for concurrent use.
type CodecRegistry struct {
	mu     sync.RWMutex
	byID   map[int]*Codec
	byName map[string]*Codec
	byType map[string]*Codec
}

// NewCodecRegistry returns an empty registry.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{
		byID:   make(map[int]*Codec),
		byName: make(map[string]*Codec),
		byType: make(map[string]*Codec),
	}
}

// DefaultCodecs returns a registry holding the json and html codecs.
func DefaultCodecs() *CodecRegistry {
	r := NewCodecRegistry()
	if err := r.Register(CodecJSON, "json", []string{"application/json", "text/json"}, decodeJSON); err != nil {
		panic(err)
	}
	if err := r.Register(CodecHTML, "html", []string{"text/html", "application/xhtml+xml"}, decodeHTML); err != nil {
		panic(err)
	}
	return r
}

// Register adds a codec. Id 0 is reserved, and ids and names must be
// unique. A content type already claimed by another codec is taken over.
func (r *CodecRegistry) Register(id int, name string, contentTypes []string, fn DecodeFunc) error {
	if id == 0 {
		return ErrInvalidCodecID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateCodec, id)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateCodec, name)
	}
	c := &Codec{ID: id, Name: name, ContentTypes: contentTypes, Decode: fn}
	r.byID[id] = c
	r.byName[name] = c
	for _, ct := range contentTypes {
		r.byType[strings.ToLower(ct)] = c
	}
	return nil
}

// ByID returns the codec registered under id.
func (r *CodecRegistry) ByID(id int) (*Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, id)
	}
	return c, nil
}

// ByName returns the codec registered under name.
func (r *CodecRegistry) ByName(name string) (*Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// ForContentType returns the codec for a Content-Type header value.
// Parameters are ignored and "type/*" registrations act as fallbacks.
func (r *CodecRegistry) ForContentType(contentType string) (*Codec, bool) {
	mt := mediaType(contentType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byType[mt]; ok {
		return c, true
	}
	if major, _, ok := strings.Cut(mt, "/"); ok {
		if c, ok := r.byType[major+"/*"]; ok {
			return c, true
		}
	}
	return nil, false
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// decodeBody applies the matching codec, or plain charset decoding for
// textual types. Binary bodies get no text.
func (r *CodecRegistry) decodeBody(body []byte, contentType, label string) (string, any, error) {
	if contentType == "" && len(body) > 0 {
		contentType = http.DetectContentType(body)
	}
	if c, ok := r.ForContentType(contentType); ok {
		return c.Decode(body, contentType, label)
	}
	if !isTextual(mediaType(contentType)) {
		return "", nil, nil
	}
	text, err := DecodeText(body, contentType, label)
	return text, nil, err
}

func isTextual(mt string) bool {
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case strings.HasSuffix(mt, "+xml"), strings.HasSuffix(mt, "+json"):
		return true
	case mt == "application/xml", mt == "application/javascript", mt == "application/x-www-form-urlencoded":
		return true
	default:
		return false
	}
}

// DecodeText converts body to UTF-8. label selects the charset; when it
// is empty the charset comes from contentType, a BOM or an HTML meta tag,
// in that order.
func DecodeText(body []byte, contentType, label string) (string, error) {
	if label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return "", fmt.Errorf("unknown charset %q: %w", label, err)
		}
		out, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("decode %s text: %w", label, err)
		}
		return string(out), nil
	}
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", name, err)
	}
	return string(out), nil
}

func decodeJSON(body []byte, contentType, label string) (string, any, error) {
	if label == "" {
		label = "utf-8"
		if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
			label = params["charset"]
		}
	}
	text, err := DecodeText(body, contentType, label)
	if err != nil {
		return "", nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text, nil, fmt.Errorf("decode json body: %w", err)
	}
	return text, v, nil
}

func decodeHTML(body []byte, contentType, label string) (string, any, error) {
	text, err := DecodeText(body, contentType, label)
	if err != nil {
		return "", nil, err
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return text, nil, fmt.Errorf("parse html body: %w", err)
	}
	return text, doc, nil
}

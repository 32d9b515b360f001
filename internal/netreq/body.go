package netreq

import "io"

// Body is a closed sum type over the request/response body variants
// named in spec.md §3. It is deliberately a small unexported-method
// interface rather than an inheritance hierarchy (spec.md §9).
type Body interface {
	isBody()
	// Len reports the known byte length, or -1 if unknown (lazy streams).
	Len() int64
}

// BufferBody is an in-memory byte buffer body.
type BufferBody struct {
	Data []byte
}

func (BufferBody) isBody()      {}
func (b BufferBody) Len() int64 { return int64(len(b.Data)) }

// TextBody is a UTF-8 text body, serialized with an implicit charset=utf-8.
type TextBody struct {
	Text string
}

func (TextBody) isBody()      {}
func (b TextBody) Len() int64 { return int64(len(b.Text)) }

// MultipartField is one field of a MultipartBody.
type MultipartField struct {
	Name     string
	Filename string // empty for plain form fields
	MimeType string
	Data     []byte
}

// MultipartBody is a multipart/form-data body.
type MultipartBody struct {
	Boundary string
	Fields   []MultipartField
}

func (MultipartBody) isBody() {}
func (b MultipartBody) Len() int64 {
	return -1 // computed lazily by the caller that serializes it
}

// StreamBody is a lazy, finite, non-restartable sequence of byte chunks.
// Cancellation is expressed by closing Reader; per spec.md §9 this must
// be safe and must release any underlying resource.
type StreamBody struct {
	Reader        io.ReadCloser
	ContentLength int64 // -1 if unknown (forces chunked encoding)
}

func (StreamBody) isBody()      {}
func (b StreamBody) Len() int64 { return b.ContentLength }

// EmptyBody represents the absence of a body (used on NetworkResponse).
type EmptyBody struct{}

func (EmptyBody) isBody()    {}
func (EmptyBody) Len() int64 { return 0 }

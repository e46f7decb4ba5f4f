// Package fetcher retrieves the bytes behind an image reference.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/chriskillpack/imgsum/locator"
	"go.uber.org/zap"
)

// Response is the content returned by a ContentFetcher.
type Response struct {
	Content     []byte
	ContentType string
}

// ContentFetcher retrieves content from the document source. When absolute is
// true path is resolved against the source's site root instead of its API root.
type ContentFetcher interface {
	Request(ctx context.Context, path string, absolute bool) (*Response, error)
}

// Image is the raw content of a located image.
type Image struct {
	Reference locator.Reference
	Data      []byte
}

// Error is a failure to retrieve an image. It is never retried.
type Error struct {
	URL string
	TLS bool // secure connection negotiation failed
	Err error
}

func (e *Error) Error() string {
	kind := "request"
	if e.TLS {
		kind = "TLS"
	}
	return fmt.Sprintf("fetching %s: %s error: %s", e.URL, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTLS reports whether err comes from a failed TLS handshake or certificate
// verification.
func IsTLS(err error) bool {
	var (
		certErr      *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		echRejectErr *tls.ECHRejectionError
	)
	return errors.As(err, &certErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &echRejectErr)
}

type Fetcher struct {
	cf     ContentFetcher
	logger *zap.Logger
}

func New(cf ContentFetcher, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cf: cf, logger: logger}
}

// Fetch retrieves the bytes for ref. Failures are logged as warnings and
// returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, ref locator.Reference) (*Image, error) {
	resp, err := f.cf.Request(ctx, ref.URL, true)
	if err == nil && (resp == nil || len(resp.Content) == 0) {
		err = errors.New("empty response body")
	}
	if err != nil {
		ferr := &Error{URL: ref.URL, TLS: IsTLS(err), Err: err}
		if ferr.TLS {
			f.logger.Warn("TLS error fetching image", zap.String("url", ref.URL), zap.Int("ordinal", ref.Ordinal), zap.Error(err))
		} else {
			f.logger.Warn("request error fetching image", zap.String("url", ref.URL), zap.Int("ordinal", ref.Ordinal), zap.Error(err))
		}
		return nil, ferr
	}

	return &Image{Reference: ref, Data: resp.Content}, nil
}

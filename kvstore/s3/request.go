package s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/code4manishk/tensorstore/kvstore"
)

const (
	// emptyPayloadSHA256 is the SHA-256 of the empty string, used as the
	// signed payload hash for bodyless requests.
	emptyPayloadSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// emptyETag is the If-Match value encoding "the object must not
	// exist". It cannot collide with a real payload hash.
	emptyETag = `""`

	signingService = "s3"
)

// requestSigner signs and dispatches one HTTP request on behalf of a
// task. Anonymous mode skips the Authorization headers entirely.
type requestSigner struct {
	driver *Driver
	signer *v4.Signer
}

func newRequestSigner(d *Driver) *requestSigner {
	return &requestSigner{driver: d, signer: v4.NewSigner()}
}

// Do signs req with the cached credentials and issues it through the
// shared HTTP client. payloadHash is the hex SHA-256 of the request body.
func (s *requestSigner) Do(ctx context.Context, req *http.Request, payloadHash string) (*http.Response, error) {
	d := s.driver
	if d.cfg.RequesterPays {
		req.Header.Set(requesterPaysHeader, requesterPaysValue)
	}
	req.Host = d.host
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	creds, ok, err := d.creds.Get(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, signingService, d.region, d.cfg.Clock.Now()); err != nil {
			return nil, fmt.Errorf("s3: sign request: %w", err)
		}
	}
	return d.httpClient.Do(req)
}

// payloadSHA256 returns the hex digest used as the SigV4 payload hash.
func payloadSHA256(payload []byte) string {
	if len(payload) == 0 {
		return emptyPayloadSHA256
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// addGenerationHeader encodes a generation into an HTTP precondition
// header: GenerationUnknown omits the header, GenerationNoValue sends the
// empty ETag, and a concrete generation sends its ETag verbatim.
func addGenerationHeader(h http.Header, name string, gen kvstore.Generation) bool {
	if gen.IsUnknown() {
		return false
	}
	if gen.IsNoValue() {
		h.Set(name, emptyETag)
		return true
	}
	h.Set(name, string(gen))
	return true
}

// generationFromResponse extracts the generation from a response ETag.
func generationFromResponse(resp *http.Response) (kvstore.Generation, error) {
	etag := resp.Header.Get("Etag")
	if etag == "" {
		return kvstore.GenerationUnknown, fmt.Errorf("s3: response has no ETag header")
	}
	return kvstore.Generation(etag), nil
}

// parseContentRange parses a "bytes A-B/C" Content-Range value. total is
// -1 when the server reports "*".
func parseContentRange(value string) (first, last, total int64, err error) {
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	rangePart, totalPart, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	firstStr, lastStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	if first, err = strconv.ParseInt(firstStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	if last, err = strconv.ParseInt(lastStr, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	if totalPart == "*" {
		return first, last, -1, nil
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	return first, last, total, nil
}

// readBody drains and closes the response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// discardBody drains and closes a body whose content is irrelevant, so
// the connection can be reused.
func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func bodySnippet(payload []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(payload))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

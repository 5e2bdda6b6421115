package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a *Store whose client talks to an in-memory fake
// transport instead of a real S3 endpoint. It covers exactly the operations
// the store issues: HeadObject, GetObject, PutObject, DeleteObject and
// ListObjectsV2.
func NewMockForTests() *Store {
	ft := &fakeTransport{objects: make(map[string]fakeObject)}
	cfg, _ := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("TEST", "TEST", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: ft}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.fake.local")
	})
	return &Store{client: client, bucket: "test-bucket", presign: s3.NewPresignClient(client)}
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// fakeTransport serves a single path-style bucket out of a map.
type fakeTransport struct{ objects map[string]fakeObject }

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key := objectKey(req.URL.Path)
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.listResponse(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return emptyResponse(http.StatusNotFound), nil
		}
		resp := emptyResponse(http.StatusOK)
		fillObjectHeaders(resp.Header, obj)
		return resp, nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return emptyResponse(http.StatusNotFound), nil
		}
		resp := emptyResponse(http.StatusOK)
		resp.Body = io.NopCloser(bytes.NewReader(obj.body))
		fillObjectHeaders(resp.Header, obj)
		return resp, nil
	case http.MethodPut:
		raw, _ := io.ReadAll(req.Body)
		if decoded, ok := unwrapChunked(raw); ok {
			raw = decoded
		}
		f.objects[key] = fakeObject{
			body:        raw,
			contentType: req.Header.Get("Content-Type"),
			metadata:    metadataFromHeaders(req.Header),
		}
		resp := emptyResponse(http.StatusOK)
		resp.Header.Set("ETag", `"fake-etag"`)
		return resp, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return emptyResponse(http.StatusNoContent), nil
	}
	return emptyResponse(http.StatusNotImplemented), nil
}

func (f *fakeTransport) listResponse(prefix string) *http.Response {
	var keys []string
	for k := range f.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	resp := emptyResponse(http.StatusOK)
	resp.Body = io.NopCloser(strings.NewReader(b.String()))
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}

// objectKey strips the leading /bucket/ segment of a path-style request.
func objectKey(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

func emptyResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}
}

func fillObjectHeaders(h http.Header, obj fakeObject) {
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	h.Set("ETag", `"fake-etag"`)
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
}

func metadataFromHeaders(h http.Header) map[string]string {
	md := make(map[string]string)
	for name, vals := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(vals) > 0 {
			md[strings.TrimPrefix(lower, "x-amz-meta-")] = vals[0]
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// unwrapChunked decodes a single-chunk aws-chunked payload of the form
// <hex-size>\r\n<body>\r\n0\r\n.... Returns false when the payload is plain.
func unwrapChunked(raw []byte) ([]byte, bool) {
	parts := strings.Split(string(raw), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

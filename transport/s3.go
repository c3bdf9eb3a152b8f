package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/pulith/pulith/pkg/errs"
)

// S3Client implements HttpClient against AWS S3 objects, for s3:// and
// virtual-hosted-style https://<bucket>.s3.<region>.amazonaws.com links.
type S3Client struct {
	svc *s3.S3
}

func NewS3Client(sess *session.Session) *S3Client {
	return &S3Client{svc: s3.New(sess)}
}

func parseS3Link(link string) (bucket, key string, err error) {
	u, perr := url.Parse(link)
	if perr != nil {
		return "", "", errs.Wrap(errs.InvalidURL, perr, "parse S3 link")
	}
	if u.Scheme == "s3" {
		return u.Host, strings.TrimPrefix(u.Path, "/"), nil
	}
	host := u.Host
	if idx := strings.Index(host, ".s3."); idx > 0 {
		return host[:idx], strings.TrimPrefix(u.Path, "/"), nil
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return "", "", errs.Newf(errs.InvalidURL, "cannot extract bucket/key from %q", link)
	}
	return parts[0], parts[1], nil
}

func (c *S3Client) Head(ctx context.Context, link string) (*Response, error) {
	bucket, key, err := parseS3Link(link)
	if err != nil {
		return nil, err
	}
	out, err := c.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errs.Wrap(errs.NetworkTransient, err, "S3 head object")
	}
	resp := &Response{StatusCode: 200, AcceptRanges: true}
	if out.ContentLength != nil {
		resp.ContentLength = *out.ContentLength
	}
	if out.ETag != nil {
		resp.ETag = *out.ETag
	}
	if out.LastModified != nil {
		resp.LastModified = out.LastModified.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	}
	return resp, nil
}

func (c *S3Client) Stream(ctx context.Context, link string, rangeStart, rangeEnd int64, ifNoneMatch, ifModifiedSince string) (io.ReadCloser, *Response, error) {
	bucket, key, err := parseS3Link(link)
	if err != nil {
		return nil, nil, err
	}
	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if rangeStart >= 0 {
		if rangeEnd > rangeStart {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rangeStart, rangeEnd-1))
		} else {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-", rangeStart))
		}
	}
	if ifNoneMatch != "" {
		in.IfNoneMatch = aws.String(ifNoneMatch)
	}
	out, err := c.svc.GetObjectWithContext(ctx, in)
	if err != nil {
		if isS3NotModified(err) {
			return nil, &Response{StatusCode: 304}, nil
		}
		return nil, nil, errs.Wrap(errs.NetworkTransient, err, "S3 get object")
	}
	resp := &Response{StatusCode: 200, AcceptRanges: true}
	if out.ContentLength != nil {
		resp.ContentLength = *out.ContentLength
	}
	if out.ETag != nil {
		resp.ETag = *out.ETag
	}
	return out.Body, resp, nil
}

func isS3NotModified(err error) bool {
	return strings.Contains(err.Error(), "NotModified")
}

package transport

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/pulith/pulith/pkg/errs"
)

// AzureClient implements HttpClient against Azure Blob Storage containers,
// for https://<account>.blob.core.windows.net/<container>/<blob> links.
type AzureClient struct {
	credential azblob.Credential
}

func NewAzureClient(credential azblob.Credential) *AzureClient {
	return &AzureClient{credential: credential}
}

func (c *AzureClient) blobURL(link string) (azblob.BlobURL, error) {
	u, err := url.Parse(link)
	if err != nil {
		return azblob.BlobURL{}, errs.Wrap(errs.InvalidURL, err, "parse Azure blob link")
	}
	pipeline := azblob.NewPipeline(c.credential, azblob.PipelineOptions{})
	return azblob.NewBlobURL(*u, pipeline), nil
}

func (c *AzureClient) Head(ctx context.Context, link string) (*Response, error) {
	blob, err := c.blobURL(link)
	if err != nil {
		return nil, err
	}
	props, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, errs.Wrap(errs.NetworkTransient, err, "Azure get blob properties")
	}
	return &Response{
		StatusCode:    200,
		ContentLength: props.ContentLength(),
		ETag:          string(props.ETag()),
		LastModified:  props.LastModified().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"),
		AcceptRanges:  true,
	}, nil
}

func (c *AzureClient) Stream(ctx context.Context, link string, rangeStart, rangeEnd int64, ifNoneMatch, _ string) (io.ReadCloser, *Response, error) {
	blob, err := c.blobURL(link)
	if err != nil {
		return nil, nil, err
	}
	var count int64
	offset := int64(0)
	if rangeStart >= 0 {
		offset = rangeStart
		if rangeEnd > rangeStart {
			count = rangeEnd - rangeStart
		}
	}
	cond := azblob.BlobAccessConditions{}
	if ifNoneMatch != "" {
		cond.ModifiedAccessConditions.IfNoneMatch = azblob.ETag(ifNoneMatch)
	}
	dl, err := blob.Download(ctx, offset, count, cond, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if strings.Contains(err.Error(), "304") {
			return nil, &Response{StatusCode: 304}, nil
		}
		return nil, nil, errs.Wrap(errs.NetworkTransient, err, "Azure download blob")
	}
	body := dl.Body(azblob.RetryReaderOptions{})
	return body, &Response{
		StatusCode:    200,
		ContentLength: dl.ContentLength(),
		ETag:          string(dl.ETag()),
		AcceptRanges:  true,
	}, nil
}

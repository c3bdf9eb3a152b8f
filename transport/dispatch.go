package transport

import (
	"net/url"
	"strings"
)

// Provider identifies which cloud-object API a URL maps to, used to pick an
// HttpClient implementation. Grounded on the teacher's downloader/utils.go
// IsGoogleStorageURL/IsS3URL/IsAzureURL family of sniffing helpers.
type Provider uint8

const (
	ProviderGeneric Provider = iota
	ProviderGCS
	ProviderS3
	ProviderAzure
)

// DetectProvider classifies link by host/scheme shape.
func DetectProvider(link string) Provider {
	u, err := url.Parse(link)
	if err != nil {
		return ProviderGeneric
	}
	switch {
	case u.Scheme == "gs":
		return ProviderGCS
	case u.Scheme == "s3":
		return ProviderS3
	case isGoogleStorageHost(u.Host):
		return ProviderGCS
	case isS3Host(u.Host):
		return ProviderS3
	case isAzureHost(u.Host):
		return ProviderAzure
	default:
		return ProviderGeneric
	}
}

func isGoogleStorageHost(host string) bool {
	return host == "storage.googleapis.com" || strings.HasSuffix(host, ".storage.googleapis.com")
}

func isS3Host(host string) bool {
	return strings.Contains(host, ".s3.") || strings.HasSuffix(host, ".s3.amazonaws.com") || host == "s3.amazonaws.com"
}

func isAzureHost(host string) bool {
	return strings.Contains(host, ".blob.core.windows.net")
}

// Registry resolves a URL to the HttpClient that can serve it: cloud-shaped
// URLs go to their SDK-backed client, everything else to the generic one.
type Registry struct {
	Generic HttpClient
	GCS     HttpClient
	S3      HttpClient
	Azure   HttpClient
}

func NewRegistry(generic HttpClient) *Registry {
	return &Registry{Generic: generic}
}

// For dispatches link to the appropriate client, falling back to Generic
// when no cloud-specific client was configured for the detected provider.
func (r *Registry) For(link string) HttpClient {
	switch DetectProvider(link) {
	case ProviderGCS:
		if r.GCS != nil {
			return r.GCS
		}
	case ProviderS3:
		if r.S3 != nil {
			return r.S3
		}
	case ProviderAzure:
		if r.Azure != nil {
			return r.Azure
		}
	}
	return r.Generic
}

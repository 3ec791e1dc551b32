// Package transport talks to the backend's REST API.
//
// The cache and query layers depend only on the Transport interface; the
// concrete HTTPClient adds authentication headers, JSON encoding and
// retries of idempotent reads.
package transport

import (
	"context"
	"net/url"
	"strings"
)

// Transport issues one request against the REST API and returns the
// decoded JSON object of a successful response.
//
// A response carrying {"code", "error"} is returned as a *RemoteError.
type Transport interface {
	Request(ctx context.Context, method, path string, params map[string]any) (map[string]any, error)
	Upload(ctx context.Context, path, contentType string, data []byte) (map[string]any, error)
}

// System classes served outside the classes/ namespace.
const (
	ClassUser         = "_User"
	ClassInstallation = "_Installation"
	ClassRole         = "_Role"
)

// ClassPath returns the collection path of a class.
func ClassPath(className string) string {
	switch className {
	case ClassUser:
		return "users"
	case ClassInstallation:
		return "installations"
	case ClassRole:
		return "roles"
	default:
		return "classes/" + url.PathEscape(className)
	}
}

// ObjectPath returns the path of one object.
func ObjectPath(className, objectID string) string {
	return ClassPath(className) + "/" + url.PathEscape(objectID)
}

// FunctionPath returns the path of a cloud function.
func FunctionPath(name string) string {
	return "functions/" + url.PathEscape(name)
}

// EventPath returns the path of an analytics event.
func EventPath(name string) string {
	return "events/" + url.PathEscape(name)
}

// FilePath returns the upload path of a named file.
func FilePath(name string) string {
	return "files/" + url.PathEscape(strings.TrimPrefix(name, "/"))
}

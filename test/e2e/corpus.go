// Package e2e provides end-to-end reconcile tests over a directory corpus of
// mixed file types.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
)

// Document is one corpus file before it is written to disk.
type Document struct {
	// ID is the doc_id the directory source derives: the path without extension.
	ID      string
	Ext     string
	Content string
}

// Path returns the slash-separated file name relative to the corpus root.
func (d Document) Path() string {
	return d.ID + d.Ext
}

var topics = []struct {
	name    string
	content string
}{
	{"python", "Python is a high-level programming language used for web development and data science."},
	{"kubernetes", "Kubernetes is an open-source container orchestration platform."},
	{"golang", "Go is a statically typed language with goroutines and channels."},
	{"postgres", "PostgreSQL is an advanced relational database with JSON support."},
	{"redis", "Redis is an in-memory data store used for sessions and caching."},
	{"kafka", "Apache Kafka is a distributed event streaming platform."},
	{"terraform", "Terraform manages cloud infrastructure declaratively."},
	{"grpc", "gRPC is a high-performance RPC framework over HTTP/2."},
	{"oauth", "OAuth 2.0 is an authorization framework for delegated access."},
	{"git", "Git is a distributed version control system."},
}

// BuildCorpus returns n documents spread across a few subdirectories, cycling
// through SupportedFileExtensions. Every document has distinct content.
func BuildCorpus(n int) []Document {
	docs := make([]Document, 0, n)
	for i := 0; i < n; i++ {
		t := topics[i%len(topics)]
		dir := []string{"guides", "notes", "archive/2023"}[i%3]
		docs = append(docs, Document{
			ID:      fmt.Sprintf("%s/%s-%03d", dir, t.name, i),
			Ext:     SupportedFileExtensions[i%len(SupportedFileExtensions)],
			Content: fmt.Sprintf("%s Document number %d.", t.content, i),
		})
	}
	return docs
}

// WriteDocument writes d under root in its file format.
func WriteDocument(root string, d Document) error {
	data, err := WriteMinimalFile(d.Ext, d.Content)
	if err != nil {
		return err
	}
	return writeRaw(root, d.Path(), data)
}

// RemoveDocument deletes the file for d under root.
func RemoveDocument(root string, d Document) error {
	return os.Remove(filepath.Join(root, filepath.FromSlash(d.Path())))
}

func writeRaw(root, name string, data []byte) error {
	path := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

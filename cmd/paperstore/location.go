package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	minio "github.com/minio/minio-go/v6"

	"github.com/ndlib/paperstore/store"
)

// splitBucketPrefix will take a path and separate the bucket name from a
// prefix, if any. The prefix returned is either empty or ends with a slash.
//
// examples:
// 		"" -> ("", "")
//		"bucket" -> ("bucket", "")
//		"/bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	location = strings.TrimPrefix(location, "/")
	if location == "" {
		return
	}
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation will create an appropriate store based on "location".
// An empty location or "memory" gives a memory store. A plain path or a
// "file:" URL gives a file system store, creating the directory if needed.
// It also understands the schemes "s3:" and "minio:" (use "minios:" for a
// https connection to a minio server). Minio credentials come from the
// environment variables MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
func parselocation(location string) (store.Store, error) {
	if location == "" || location == "memory" {
		return store.NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parsing location %q: %w", location, err)
	}
	switch u.Scheme {
	case "", "file":
		path := u.Path
		if path == "" {
			path = u.Opaque // "file:rel/path"
		}
		path = filepath.Clean(path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		return store.NewFileSystem(path), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			return nil, fmt.Errorf("no bucket name in location %q", location)
		}
		sess, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return store.NewS3(bucket, prefix, sess), nil
	case "minio", "minios":
		accessKey := os.Getenv("MINIO_ACCESS_KEY")
		secretKey := os.Getenv("MINIO_SECRET_KEY")
		switch {
		case u.Host == "":
			return nil, fmt.Errorf("no minio host in location %q", location)
		case accessKey == "":
			return nil, fmt.Errorf("MINIO_ACCESS_KEY missing")
		case secretKey == "":
			return nil, fmt.Errorf("MINIO_SECRET_KEY missing")
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			return nil, fmt.Errorf("no bucket name in location %q", location)
		}
		client, err := minio.New(u.Host, accessKey, secretKey, u.Scheme == "minios")
		if err != nil {
			return nil, err
		}
		return store.NewMinio(bucket, prefix, client), nil
	}
	return nil, fmt.Errorf("unknown location scheme %q", u.Scheme)
}

// localDir returns the directory of a file system location, or "" for any
// other kind of location.
func localDir(location string) string {
	if location == "" || location == "memory" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "" && u.Scheme != "file") {
		return ""
	}
	if u.Path == "" {
		return filepath.Clean(u.Opaque)
	}
	return filepath.Clean(u.Path)
}

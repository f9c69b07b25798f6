package consts

import "errors"

var (
	ErrSameFolder       = errors.New("processed folder is the same as the main folder")
	ErrMalformedMessage = errors.New("malformed message")
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidEvent     = errors.New("invalid event record")

	ErrS3GetFailed     = errors.New("s3 get failed")
	ErrS3CopyFailed    = errors.New("s3 copy failed")
	ErrS3TaggingFailed = errors.New("s3 tagging failed")
)

// Package testutils provides test doubles for the object store.
//
//   - FileBasedS3Mock keeps objects on disk and tags in memory, and
//     implements the processor's object store interface directly.
//   - FakeS3Server serves a FileBasedS3Mock over the S3 REST API, so the
//     minio-backed storage package can be tested without a real endpoint.
//
// Example usage:
//
//	mock, err := testutils.NewFileBasedS3Mock(t.TempDir())
//	require.NoError(t, err)
//	mock.PutObject("mail", "inbound/abc", rawMessage)
//
//	srv := testutils.NewFakeS3Server(mock)
//	defer srv.Close()
//	// point storage.New at srv.Endpoint()
package testutils

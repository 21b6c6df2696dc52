package download

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFetch_Success stores the body under the target directory.
func TestFetch_Success(t *testing.T) {
	t.Parallel()

	body := []byte("PK\x03\x04 pretend archive")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	dir := t.TempDir()

	archivePath, err := NewFetcher(dir, WithHTTPClient(ts.Client())).Fetch(context.Background(), ts.URL+"/bin-linux/bedrock-server-1.21.44.01.zip")
	require.NoError(t, err)
	require.FileExists(t, archivePath)
	require.Contains(t, archivePath, dir)
	require.Contains(t, archivePath, "bedrock-server-1.21.44.01.zip")

	got, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

// TestFetch_BadStatus returns a TransferError and leaves no file.
func TestFetch_BadStatus(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	dir := t.TempDir()

	_, err := NewFetcher(dir).Fetch(context.Background(), ts.URL+"/missing.zip")
	require.ErrorIs(t, err, errBadHTTPStatus)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	require.Equal(t, ts.URL+"/missing.zip", transferErr.URL)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestFetch_Truncated detects a body shorter than the announced length.
func TestFetch_Truncated(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		conn, buf, err := hijacker.Hijack()
		if err != nil {
			return
		}

		defer conn.Close()

		writeTruncated(buf)
	}))
	defer ts.Close()

	dir := t.TempDir()

	_, err := NewFetcher(dir).Fetch(context.Background(), ts.URL+"/server.zip")

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "partial archive must be removed")
}

func writeTruncated(buf *bufio.ReadWriter) {
	_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\nConnection: close\r\n\r\n")
	_, _ = buf.WriteString("only a few bytes")
	_ = buf.Flush()
}

// TestFetch_Unreachable returns a TransferError on connection failure.
func TestFetch_Unreachable(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	_, err := NewFetcher(t.TempDir()).Fetch(context.Background(), addr+"/server.zip")

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
}

// TestArchiveName falls back to a default for URLs without a file name.
func TestArchiveName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "bedrock-server-1.21.44.01.zip", archiveName("https://example.com/bin-linux/bedrock-server-1.21.44.01.zip?x=1"))
	require.Equal(t, "update.zip", archiveName("https://example.com/"))
	require.Equal(t, "a_b.zip", archiveName("https://example.com/a*b.zip"))
}

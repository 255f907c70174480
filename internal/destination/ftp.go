package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lifeboat-sh/lifeboat/internal/config"
)

// FTP uploads artifacts to a remote FTP server. Location handles have the
// form "ftp://host/path/to/key".
//
// Options: host (required), port (default 21), user, path, timeout. The
// password comes from the "password" option or the LIFEBOAT_FTP_PASSWORD
// environment variable. Connections are dialed per operation; backup
// uploads are infrequent enough that pooling is not worth the stale
// connection handling it would need.
type FTP struct {
	name    string
	addr    string
	host    string
	user    string
	pass    string
	root    string
	timeout time.Duration
}

func newFTP(dest config.Destination) (*FTP, error) {
	host := dest.Options["host"]
	if host == "" {
		return nil, fmt.Errorf("destination %q: ftp requires a \"host\" option", dest.Name)
	}

	port := dest.Options["port"]
	if port == "" {
		port = "21"
	}

	user := dest.Options["user"]
	if user == "" {
		user = "anonymous"
	}

	pass := dest.Options["password"]
	if pass == "" {
		pass = os.Getenv("LIFEBOAT_FTP_PASSWORD")
	}

	return &FTP{
		name:    dest.Name,
		addr:    fmt.Sprintf("%s:%s", host, port),
		host:    host,
		user:    user,
		pass:    pass,
		root:    strings.Trim(dest.Options["path"], "/"),
		timeout: opTimeout(dest.Options),
	}, nil
}

func (f *FTP) Name() string { return f.name }
func (f *FTP) Kind() string { return KindFTP }

// connect dials and logs in. The returned connection must be Quit by the
// caller. The dial timeout also bounds individual control and data
// operations on the connection.
func (f *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp: dialing %s: %w", f.addr, err)
	}
	if err := conn.Login(f.user, f.pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp: login as %s: %w", f.user, err)
	}
	return conn, nil
}

func (f *FTP) Upload(ctx context.Context, jobID string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, err := f.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Quit()

	key := artifactKey(f.root, jobID)
	// Create intermediate directories; MKD on an existing directory is an
	// error on most servers, so failures here are ignored.
	if dir := path.Dir(key); dir != "." && dir != "/" {
		f.mkdirs(conn, dir)
	}

	if err := conn.Stor(key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("ftp: storing %s: %w", key, err)
	}
	return fmt.Sprintf("ftp://%s/%s", f.host, key), nil
}

func (f *FTP) mkdirs(conn *ftp.ServerConn, dir string) {
	parts := strings.Split(dir, "/")
	for i := range parts {
		conn.MakeDir(strings.Join(parts[:i+1], "/"))
	}
}

func (f *FTP) Fetch(ctx context.Context, location string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	key, err := f.key(location)
	if err != nil {
		return nil, err
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	resp, err := conn.Retr(key)
	if err != nil {
		return nil, fmt.Errorf("ftp: retrieving %s: %w", location, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("ftp: reading %s: %w", location, err)
	}
	return data, nil
}

func (f *FTP) Stat(ctx context.Context, location string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	key, err := f.key(location)
	if err != nil {
		return 0, err
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	size, err := conn.FileSize(key)
	if err != nil {
		return 0, fmt.Errorf("ftp: stat %s: %w", location, err)
	}
	return size, nil
}

func (f *FTP) Delete(ctx context.Context, location string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	key, err := f.key(location)
	if err != nil {
		return err
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Delete(key); err != nil {
		return fmt.Errorf("ftp: deleting %s: %w", location, err)
	}
	return nil
}

// key strips the ftp://host/ prefix from a location handle.
func (f *FTP) key(location string) (string, error) {
	rest, ok := strings.CutPrefix(location, "ftp://")
	if !ok {
		return "", fmt.Errorf("ftp: malformed location %q", location)
	}
	_, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("ftp: malformed location %q", location)
	}
	return key, nil
}

package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
)

// Job describes one file upload to a device.
type Job struct {
	Host       string
	LocalPath  string
	RemoteName string
	TLS        bool
	Progress   ProgressFunc
}

func (j Job) name() string {
	if j.RemoteName != "" {
		return j.RemoteName
	}
	return filepath.Base(j.LocalPath)
}

// Uploader sends a file to a device.
type Uploader interface {
	Upload(ctx context.Context, job Job) error
}

var ErrUploadRejected = errors.New("device rejected upload")

// HTTPUploader posts the file as a multipart form field named "file".
type HTTPUploader struct {
	client *http.Client
	port   int
	path   string
}

// NewHTTPUploader creates an uploader for the device's HTTP endpoint.
func NewHTTPUploader(client *http.Client, port int, path string) *HTTPUploader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPUploader{client: client, port: port, path: path}
}

// Upload streams the file without buffering it in memory.
func (u *HTTPUploader) Upload(ctx context.Context, job Job) error {
	f, size, err := openSized(job.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tracker := NewProgressTracker(job.Progress)
	tracker.Report(0, size)

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", job.name())
		if err == nil {
			_, err = io.Copy(part, &countingReader{r: f, total: size, tracker: tracker})
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(job.Host, strconv.Itoa(u.port)), u.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("http upload failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrUploadRejected, resp.StatusCode)
	}
	return nil
}

// FTPConn is the subset of an FTP session used here.
type FTPConn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// FTPDialer opens an FTP session; tlsConfig is nil for plain FTP.
type FTPDialer func(ctx context.Context, addr string, tlsConfig *tls.Config) (FTPConn, error)

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	r, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DialFTP connects with EPSV disabled, which device firmware does not support.
func DialFTP(timeout time.Duration) FTPDialer {
	return func(ctx context.Context, addr string, tlsConfig *tls.Config) (FTPConn, error) {
		opts := []ftp.DialOption{
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(timeout),
			ftp.DialWithDisabledEPSV(true),
		}
		if tlsConfig != nil {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
		}
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return nil, err
		}
		return serverConn{c}, nil
	}
}

// DeviceTLSConfig is used for explicit FTPS. Devices present self-signed certificates.
func DeviceTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}

// FTPUploader stores the file over FTP, optionally upgraded with explicit TLS.
type FTPUploader struct {
	dial     FTPDialer
	port     int
	user     string
	password string
}

// NewFTPUploader creates an uploader for the device's FTP endpoint.
func NewFTPUploader(dial FTPDialer, port int, user, password string) *FTPUploader {
	return &FTPUploader{dial: dial, port: port, user: user, password: password}
}

func (u *FTPUploader) Upload(ctx context.Context, job Job) error {
	f, size, err := openSized(job.LocalPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var tlsConfig *tls.Config
	if job.TLS {
		tlsConfig = DeviceTLSConfig()
	}

	conn, err := u.dial(ctx, net.JoinHostPort(job.Host, strconv.Itoa(u.port)), tlsConfig)
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(u.user, u.password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	tracker := NewProgressTracker(job.Progress)
	tracker.Report(0, size)
	if err := conn.Stor(job.name(), &countingReader{r: f, total: size, tracker: tracker}); err != nil {
		return fmt.Errorf("ftp store %s: %w", job.name(), err)
	}
	return nil
}

func openSized(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open upload file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat upload file: %w", err)
	}
	return f, st.Size(), nil
}

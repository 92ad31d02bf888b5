package http

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	gopath "path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/ca"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

type ServerOpts struct {
	ServiceID []byte

	// Fields below are optional.

	// Version of the certificate header served. Defaults to 2.
	Version uint64

	// Headers certified in version 2. Defaults to Content-Type.
	CertifiedHeaders []string

	// Defaults to a no-op logger.
	Logger *zap.Logger
}

type asset struct {
	body        []byte
	contentType string
}

// Server serves the files of a directory as a service would: with
// certificates issued by a test network.
type Server struct {
	server  *http.Server
	handle  *ca.Handle
	network *ca.Network
	service *ca.Service
	assets  map[string]asset
	expr    *certification.Expression
	opts    ServerOpts
}

// NewServer certifies the files in assetsDir with the test network at
// caPath, which stays locked until Shutdown.
func NewServer(caPath, assetsDir, listenAddr string, opts ServerOpts) (*Server, error) {
	if opts.Version == 0 {
		opts.Version = 2
	}
	if opts.CertifiedHeaders == nil {
		opts.CertifiedHeaders = []string{"content-type"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h, err := ca.Open(caPath)
	if err != nil {
		return nil, err
	}
	network, err := h.Network()
	if err != nil {
		h.Close()
		return nil, err
	}

	s := &Server{
		handle:  h,
		network: network,
		service: ca.NewService(opts.ServiceID),
		assets:  make(map[string]asset),
		expr: certification.ResponseOnlyExpression(certification.ResponseScope{
			Headers: opts.CertifiedHeaders,
		}),
		opts: opts,
	}
	if err := s.load(assetsDir); err != nil {
		h.Close()
		return nil, err
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		Addr:         listenAddr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	return s, nil
}

// Certifies every file below dir under its URL path. An index.html is
// served for its directory as well.
func (s *Server) load(dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		urlPath := "/" + filepath.ToSlash(rel)
		contentType := mime.TypeByExtension(gopath.Ext(urlPath))
		if contentType == "" {
			contentType = http.DetectContentType(body)
		}
		s.add(urlPath, asset{body: body, contentType: contentType})
		if gopath.Base(urlPath) == "index.html" {
			s.add(gopath.Dir(urlPath), asset{body: body, contentType: contentType})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading assets: %w", err)
	}
	s.opts.Logger.Info("certified assets", zap.Int("count", len(s.assets)))
	return nil
}

func (s *Server) add(urlPath string, a asset) {
	s.assets[urlPath] = a
	s.service.AddAsset(urlPath, a.body)
	s.service.AddCertification(
		certification.ExactPath(urlPath),
		certification.ResponseOnly(s.expr, s.response(a)),
	)
}

// The response for a, without its certificate.
func (s *Server) response(a asset) *verification.Response {
	return &verification.Response{
		StatusCode: http.StatusOK,
		Headers: []verification.HeaderField{
			{Name: "Content-Type", Value: a.contentType},
			{Name: "Ic-Certificate-Expression", Value: s.expr.String()},
		},
		Body: a.body,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleAsset)
	return mux
}

func (s *Server) ListenAndServe() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if cerr := s.handle.Close(); err == nil {
		err = cerr
	}
	return err
}

// Header returns the certificate header for the asset at urlPath, issued
// at the given time.
func (s *Server) Header(urlPath string, now time.Time) (string, error) {
	tree, err := s.service.Tree()
	if err != nil {
		return "", err
	}
	cert, err := s.network.Certify(uint64(now.UnixNano()), s.service)
	if err != nil {
		return "", err
	}

	opts := ca.HeaderOpts{
		Certificate: cert,
		Tree:        tree,
	}
	if s.opts.Version == 1 {
		// The asset is all a version 1 client looks up.
		opts.Tree = hashtree.Prune(tree,
			[][]byte{[]byte("http_assets"), []byte(urlPath)})
	} else {
		opts.Version = s.opts.Version
		opts.ExprPath = certification.ExactPath(urlPath)
	}
	return ca.FormatHeader(opts)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	a, ok := s.assets[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	hdr, err := s.Header(r.URL.Path, time.Now())
	if err != nil {
		s.opts.Logger.Error("certifying response", zap.Error(err))
		http.Error(w, "failed to certify response", http.StatusInternalServerError)
		return
	}

	for _, h := range s.response(a).Headers {
		w.Header().Set(h.Name, h.Value)
	}
	w.Header().Set("Ic-Certificate", hdr)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.body); err != nil {
		s.opts.Logger.Debug("writing response", zap.Error(err))
	}
}

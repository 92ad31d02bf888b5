package ca

import (
	"github.com/jessiemongeon1/response-verification"
	"github.com/jessiemongeon1/response-verification/certification"
	"github.com/jessiemongeon1/response-verification/hashtree"
)

// Service builds the tree a service certifies: hashes of its assets for
// version 1 and certifications under expression paths for version 2.
type Service struct {
	ID []byte

	entries []hashtree.Entry
}

func NewService(id []byte) *Service {
	return &Service{ID: id}
}

// AddAsset certifies body as the content served at the URL path.
func (s *Service) AddAsset(urlPath string, body []byte) {
	h := verification.Sum(body)
	s.entries = append(s.entries, hashtree.Entry{
		Path:  [][]byte{[]byte("http_assets"), []byte(urlPath)},
		Value: h[:],
	})
}

// AddCertification certifies c under the given expression path, such as
// one returned by certification.ExactPath.
func (s *Service) AddCertification(exprPath []string, c certification.Certification) {
	d := c.Digest()
	s.entries = append(s.entries, hashtree.Entry{
		Path:  hashtree.Labels(exprPath...),
		Value: d[:],
	})
}

// Tree returns the tree holding everything added so far.
func (s *Service) Tree() (hashtree.Tree, error) {
	return hashtree.FromEntries(s.entries...)
}

package pipeline

import (
	"cmp"
	"errors"
	"slices"

	"github.com/pevans/psahunter/ledger"
)

// Accumulator holds what the current run collected but has not yet written
// to a ledger. Flushing writes and forgets, so flushing twice never writes
// an entry twice.
type Accumulator struct {
	urls  []string
	certs []ledger.CertEntry
}

// AddURL buffers a URL for the URL ledger.
func (a *Accumulator) AddURL(u string) {
	a.urls = append(a.urls, u)
}

// AddCert buffers an entry for the certificate ledger.
func (a *Accumulator) AddCert(e ledger.CertEntry) {
	a.certs = append(a.certs, e)
}

// Pending returns the number of buffered URLs and certs.
func (a *Accumulator) Pending() (urls, certs int) {
	return len(a.urls), len(a.certs)
}

// FlushURLs appends buffered URLs to l in collection order. The buffer is
// kept when the write fails.
func (a *Accumulator) FlushURLs(l *ledger.URLs) (int, error) {
	if len(a.urls) == 0 {
		return 0, nil
	}
	if err := l.Append(a.urls); err != nil {
		return 0, err
	}

	n := len(a.urls)
	a.urls = nil
	return n, nil
}

// FlushCerts appends buffered certs to l sorted by number.
func (a *Accumulator) FlushCerts(l *ledger.Certs) (int, error) {
	if len(a.certs) == 0 {
		return 0, nil
	}

	entries := slices.Clone(a.certs)
	slices.SortStableFunc(entries, func(x, y ledger.CertEntry) int {
		return cmp.Compare(x.Number, y.Number)
	})
	if err := l.AppendEntries(entries); err != nil {
		return 0, err
	}

	n := len(a.certs)
	a.certs = nil
	return n, nil
}

// Flush writes both buffers. Both writes are attempted even if the first
// fails.
func (a *Accumulator) Flush(urls *ledger.URLs, certs *ledger.Certs) (nURLs, nCerts int, err error) {
	nURLs, errURLs := a.FlushURLs(urls)
	nCerts, errCerts := a.FlushCerts(certs)
	return nURLs, nCerts, errors.Join(errURLs, errCerts)
}

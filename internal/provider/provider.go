package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/libdns/libdns"
)

// Provider is the DNS provider client consumed by the reconciler.
type Provider interface {
	ResolveZone(ctx context.Context, domain string) (string, error)
	ResolveRecord(ctx context.Context, zoneID, name string) (Record, error)
	UpdateRecord(ctx context.Context, zoneID string, record Record) error
}

var (
	ErrZoneNotFound   = errors.New("zone not found")
	ErrRecordNotFound = errors.New("A record not found")
	ErrUnreachable    = errors.New("provider unreachable")
	ErrUpdateFailed   = errors.New("update rejected by provider")
)

// Error ties a provider failure to the operation that produced it. Err is one
// of the sentinel errors above, Cause is the underlying transport or API error.
type Error struct {
	Op    string
	Err   error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NewError(op string, kind, cause error) error {
	return &Error{Op: op, Err: kind, Cause: cause}
}

type Record struct {
	ID   string
	Name string
	Type string
	Data string
	TTL  time.Duration
}

// ParseAddress parses an address record into its typed libdns form. The
// content must be an IP of the family the record type names.
func ParseAddress(r Record) (libdns.Address, error) {
	rr := libdns.RR{
		Name: r.Name,
		Type: r.Type,
		Data: r.Data,
		TTL:  r.TTL,
	}
	parsed, err := rr.Parse()
	if err != nil {
		return libdns.Address{}, fmt.Errorf("fail parse %s record %s: %w", r.Type, r.Name, err)
	}
	addr, ok := parsed.(libdns.Address)
	if !ok {
		return libdns.Address{}, fmt.Errorf("unsupported record type %s", r.Type)
	}
	if addr.RR().Type != r.Type {
		return libdns.Address{}, fmt.Errorf("address %s does not match record type %s", r.Data, r.Type)
	}
	return addr, nil
}

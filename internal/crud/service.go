// Package crud gates repository calls behind the table policy.
package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/fieldhash"
)

// ErrAccessDenied is matched by every *AccessDeniedError.
var ErrAccessDenied = errors.New("access denied")

// AccessDeniedError reports a table the policy forbids.
type AccessDeniedError struct {
	Table string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: table %q is restricted", e.Table)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// Policy answers whether a table may be used.
type Policy interface {
	TableAllowed(schema, table string) bool
}

type allowAll struct{}

func (allowAll) TableAllowed(string, string) bool { return true }

// Service holds no per-call state and is safe for concurrent use.
type Service struct {
	repo   db.Repository
	policy Policy
	hasher fieldhash.Hasher
	logger *slog.Logger
}

// New builds a Service. A nil policy allows every table; a nil hasher is
// bcrypt at the default cost.
func New(repo db.Repository, policy Policy, hasher fieldhash.Hasher, logger *slog.Logger) *Service {
	if policy == nil {
		policy = allowAll{}
	}
	if hasher == nil {
		hasher = fieldhash.Bcrypt{Cost: fieldhash.DefaultCost}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, policy: policy, hasher: hasher, logger: logger}
}

func (s *Service) Dialect() db.Dialect { return s.repo.Dialect() }

func (s *Service) FetchRows(ctx context.Context, ref db.TableRef, limit int) ([]db.Row, error) {
	if err := s.gate(ref); err != nil {
		return nil, err
	}
	return s.repo.FetchRows(ctx, ref, limit)
}

func (s *Service) FetchByKey(ctx context.Context, ref db.TableRef, key string, value any) ([]db.Row, error) {
	if err := s.gate(ref); err != nil {
		return nil, err
	}
	return s.repo.FetchByKey(ctx, ref, key, value)
}

func (s *Service) Create(ctx context.Context, ref db.TableRef, fields db.Fields, encryptCSV string) (bool, error) {
	if err := s.gate(ref); err != nil {
		return false, err
	}
	return s.repo.Create(ctx, ref, fields, encryptCSV)
}

func (s *Service) Update(ctx context.Context, ref db.TableRef, key string, value any, fields db.Fields, encryptCSV string) (int64, error) {
	if err := s.gate(ref); err != nil {
		return 0, err
	}
	return s.repo.Update(ctx, ref, key, value, fields, encryptCSV)
}

func (s *Service) Delete(ctx context.Context, ref db.TableRef, key string, value any) (int64, error) {
	if err := s.gate(ref); err != nil {
		return 0, err
	}
	return s.repo.Delete(ctx, ref, key, value)
}

// Diagnostics is not subject to the table policy.
func (s *Service) Diagnostics(ctx context.Context) (*db.Diagnostics, error) {
	return s.repo.ConnectionDiagnostics(ctx)
}

// TableModel resolves the schema of table and returns its columns. found
// is false when no schema holds table.
func (s *Service) TableModel(ctx context.Context, table, schemaHint string) (schema string, cols []db.Column, found bool, err error) {
	if err := s.gate(db.TableRef{Schema: schemaHint, Name: table}); err != nil {
		return "", nil, false, err
	}

	schema, found, err = s.repo.GetSchema(ctx, table, schemaHint)
	if err != nil || !found {
		return "", nil, false, err
	}

	ref := db.TableRef{Schema: schema, Name: table}
	if err := s.gate(ref); err != nil {
		return "", nil, false, err
	}

	cols, err = s.repo.GetTableStructure(ctx, ref)
	if err != nil {
		return "", nil, false, err
	}
	return schema, cols, true, nil
}

// DatabaseStructure returns every visible table. Forbidden tables are left
// out, as are schemas left empty by that.
func (s *Service) DatabaseStructure(ctx context.Context) (db.DatabaseStructure, error) {
	all, err := s.repo.GetDatabaseStructure(ctx)
	if err != nil {
		return nil, err
	}

	out := make(db.DatabaseStructure, len(all))
	for schema, tables := range all {
		kept := make(map[string][]db.Column, len(tables))
		for table, cols := range tables {
			if s.allowed(db.TableRef{Schema: schema, Name: table}) {
				kept[table] = cols
			}
		}
		if len(kept) > 0 {
			out[schema] = kept
		}
	}
	return out, nil
}

// VerifyPassword checks password against the hash stored for user. An
// unknown user is reported as a failed check, not an error.
func (s *Service) VerifyPassword(ctx context.Context, ref db.TableRef, userColumn, passwordColumn string, user any, password string) (bool, error) {
	if err := s.gate(ref); err != nil {
		return false, err
	}

	hash, found, err := s.repo.FetchPasswordHash(ctx, ref, userColumn, passwordColumn, user)
	if err != nil || !found {
		return false, err
	}
	return s.hasher.Verify(hash, password), nil
}

func (s *Service) gate(ref db.TableRef) error {
	if err := db.ValidateRef(ref); err != nil {
		return err
	}
	if !s.allowed(ref) {
		s.logger.Warn("table access denied", "table", ref.String())
		return &AccessDeniedError{Table: ref.Name}
	}
	return nil
}

func (s *Service) allowed(ref db.TableRef) bool {
	return s.policy.TableAllowed(ref.Schema, ref.Name)
}

// Package erp defines the narrow interface the reconciler uses to read
// payroll/ERP source rows. The production SQL Server connection lives
// outside this module's scope; callers depend only on Reader, so a
// managed-identity-backed driver can be wired in later without any
// syncer change.
package erp

import (
	"context"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
)

// Reader returns the current snapshot of each source table the
// reconciler consumes.
type Reader interface {
	Employees(ctx context.Context) ([]model.EmployeeRecord, error)
	Departments(ctx context.Context) ([]model.DepartmentRecord, error)
	Jobs(ctx context.Context) ([]model.JobRecord, error)
	Titles(ctx context.Context) ([]model.TitleRecord, error)
}

// StaticReader is an in-memory Reader, used in tests and in any
// deployment where the ERP extract is staged as a fixed snapshot
// rather than queried live.
type StaticReader struct {
	EmployeeRows   []model.EmployeeRecord
	DepartmentRows []model.DepartmentRecord
	JobRows        []model.JobRecord
	TitleRows      []model.TitleRecord
}

func (r StaticReader) Employees(context.Context) ([]model.EmployeeRecord, error) {
	return r.EmployeeRows, nil
}

func (r StaticReader) Departments(context.Context) ([]model.DepartmentRecord, error) {
	return r.DepartmentRows, nil
}

func (r StaticReader) Jobs(context.Context) ([]model.JobRecord, error) {
	return r.JobRows, nil
}

func (r StaticReader) Titles(context.Context) ([]model.TitleRecord, error) {
	return r.TitleRows, nil
}

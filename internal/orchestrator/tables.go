package orchestrator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/johndauphine/mssql-pg-geocopy/internal/driver"
	"github.com/johndauphine/mssql-pg-geocopy/internal/transfer"
	"github.com/johndauphine/mssql-pg-geocopy/internal/util"
)

// ParseTableSpec parses "source[,dest]". Either side may be schema-qualified;
// unqualified names get the given default schemas. A missing destination is
// the lower-cased source table name.
func ParseTableSpec(spec, sourceSchema, destSchema string) (transfer.Job, error) {
	parts := util.SplitCSV(spec)
	if len(parts) == 0 || len(parts) > 2 {
		return transfer.Job{}, fmt.Errorf("invalid table entry %q (want source[,dest])", spec)
	}

	var job transfer.Job
	job.SourceSchema, job.SourceTable = util.SplitQualified(parts[0], sourceSchema)
	if len(parts) == 2 {
		job.DestSchema, job.DestTable = util.SplitQualified(parts[1], destSchema)
	} else {
		job.DestSchema, job.DestTable = destSchema, strings.ToLower(job.SourceTable)
	}

	for _, ident := range []string{job.SourceTable, job.DestTable} {
		if err := driver.ValidateIdentifier(ident); err != nil {
			return transfer.Job{}, fmt.Errorf("table entry %q: %w", spec, err)
		}
	}
	return job, nil
}

// ReadTableList reads one table entry per line. Blank lines and lines
// starting with # are skipped.
func ReadTableList(r io.Reader, sourceSchema, destSchema string) ([]transfer.Job, error) {
	var jobs []transfer.Job
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		job, err := ParseTableSpec(line, sourceSchema, destSchema)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading table list: %w", err)
	}
	return jobs, nil
}

// LoadTableList reads a table list file.
func LoadTableList(path, sourceSchema, destSchema string) ([]transfer.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table list: %w", err)
	}
	defer f.Close()

	jobs, err := ReadTableList(f, sourceSchema, destSchema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// ResolveJobs combines explicit entries and an optional list file, in that
// order. A destination named twice is an error since the second copy would
// silently replace the first.
func ResolveJobs(specs []string, listPath, sourceSchema, destSchema string) ([]transfer.Job, error) {
	var jobs []transfer.Job
	for _, spec := range specs {
		job, err := ParseTableSpec(spec, sourceSchema, destSchema)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if listPath != "" {
		fromFile, err := LoadTableList(listPath, sourceSchema, destSchema)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fromFile...)
	}

	seen := make(map[string]string, len(jobs))
	for _, j := range jobs {
		key := strings.ToLower(j.Dest())
		if prev, dup := seen[key]; dup {
			if strings.EqualFold(prev, j.Source()) {
				return nil, fmt.Errorf("table %s listed twice", j.Source())
			}
			return nil, fmt.Errorf("destination %s is targeted by both %s and %s", j.Dest(), prev, j.Source())
		}
		seen[key] = j.Source()
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no tables to copy (use --table or transfer.table_list)")
	}
	return jobs, nil
}

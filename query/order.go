package query

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
)

// ParseOrderBy turns a comma-separated field list into ordering criteria.
// A leading "-" sorts the field descending. Empty input yields no ordering
// clause.
func ParseOrderBy(orderBy string) ([]repository.SelectCriteria, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return nil, nil
	}

	var criteria []repository.SelectCriteria
	for _, part := range strings.Split(orderBy, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		direction := "ASC"
		if strings.HasPrefix(part, "-") {
			direction = "DESC"
			part = part[1:]
		}
		if err := validateColumn(part); err != nil {
			return nil, err
		}
		criteria = append(criteria, repository.OrderBy(part+" "+direction))
	}
	return criteria, nil
}

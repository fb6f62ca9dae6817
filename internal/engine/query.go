package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syncbridge/internal/metadata"
	"syncbridge/internal/store"
)

// ListPlan holds the parsed list parameters for GET /api/:entity.
type ListPlan struct {
	Entity  *metadata.Entity
	Filters []Filter
	Sort    string
	Desc    bool
	Page    int
	PerPage int
}

// Filter is an equality condition from filter[field]=value.
type Filter struct {
	Field *metadata.Field
	Value any
}

// ParseListParams reads page, per_page, sort and filter[field] from the query string.
func ParseListParams(c *fiber.Ctx, entity *metadata.Entity) (*ListPlan, error) {
	plan := &ListPlan{
		Entity:  entity,
		Sort:    entity.PrimaryKey.Field,
		Page:    1,
		PerPage: 25,
	}

	var parseErr error
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		if !strings.HasPrefix(k, "filter[") || !strings.HasSuffix(k, "]") || parseErr != nil {
			return
		}
		name := k[len("filter[") : len(k)-1]
		f := entity.GetField(name)
		if f == nil || f.NonPersistent {
			parseErr = &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: fmt.Sprintf("Unknown filter field: %s", name)}
			return
		}
		v, err := NormalizeValue(f, string(value))
		if err != nil {
			parseErr = InvalidPayloadError(fmt.Sprintf("Invalid filter value for %s: %v", name, err))
			return
		}
		plan.Filters = append(plan.Filters, Filter{Field: f, Value: v})
	})
	if parseErr != nil {
		return nil, parseErr
	}

	if s := c.Query("sort"); s != "" {
		field := s
		if strings.HasPrefix(s, "-") {
			field = s[1:]
			plan.Desc = true
		}
		if !entity.HasField(field) {
			return nil, &AppError{Code: "UNKNOWN_FIELD", Status: 400, Message: fmt.Sprintf("Unknown sort field: %s", field)}
		}
		plan.Sort = field
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = v
			if plan.PerPage > 100 {
				plan.PerPage = 100
			}
		}
	}

	return plan, nil
}

// BuildListSQL builds the paged SELECT and the matching COUNT.
func BuildListSQL(d store.Dialect, plan *ListPlan) (QueryResult, QueryResult, error) {
	e := plan.Entity

	where := func(pb store.ParamBuilder) (string, error) {
		var clauses []string
		for _, f := range plan.Filters {
			v, err := dbValue(d, f.Field, f.Value)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, fmt.Sprintf("%s = %s", f.Field.Name, pb.Add(v)))
		}
		if len(clauses) == 0 {
			return "", nil
		}
		return " WHERE " + strings.Join(clauses, " AND "), nil
	}

	pb := d.NewParamBuilder()
	w, err := where(pb)
	if err != nil {
		return QueryResult{}, QueryResult{}, err
	}
	dir := "ASC"
	if plan.Desc {
		dir = "DESC"
	}
	sel := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s %s", columnList(e), e.Table, w, plan.Sort, dir)
	limit := pb.Add(plan.PerPage)
	offset := pb.Add((plan.Page - 1) * plan.PerPage)
	sel += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	cpb := d.NewParamBuilder()
	cw, err := where(cpb)
	if err != nil {
		return QueryResult{}, QueryResult{}, err
	}
	count := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s%s", e.Table, cw)

	return QueryResult{SQL: sel, Params: pb.Params()}, QueryResult{SQL: count, Params: cpb.Params()}, nil
}

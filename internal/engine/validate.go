package engine

import (
	"fmt"

	"github.com/expr-lang/expr"

	"syncbridge/internal/metadata"
)

// validate checks every pending object before hooks run or SQL is issued.
func (u *UnitOfWork) validate() error {
	var errs []ErrorDetail
	for _, o := range u.modified {
		if o.Entity.ReadOnly && !u.allowReadOnly {
			return ForbiddenError(fmt.Sprintf("%s is read-only and only changes through sync", o.Entity.Name))
		}
		if u.status[o] == statusDeleted || u.skipValidation {
			continue
		}
		errs = append(errs, validateObject(o, u.status[o] == statusNew)...)
	}
	if len(errs) > 0 {
		return ValidationError(errs)
	}
	return nil
}

func validateObject(o *Object, isCreate bool) []ErrorDetail {
	var errs []ErrorDetail
	e := o.Entity

	for _, f := range e.PersistentFields() {
		if !f.Required || e.IsKey(f.Name) {
			continue
		}
		v, present := o.values[f.Name]
		if isCreate && (!present || v == nil) && f.Default == nil {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "required", Message: fmt.Sprintf("%s is required", f.Name)})
		} else if !isCreate && o.dirty[f.Name] && v == nil {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "required", Message: fmt.Sprintf("%s cannot be null", f.Name)})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{
		"record": RecordMap(o),
		"action": action,
		"entity": e.Name,
	}
	for i := range e.Rules {
		if detail := evaluateRule(&e.Rules[i], env); detail != nil {
			errs = append(errs, *detail)
		}
	}
	return errs
}

func evaluateRule(r *metadata.ValidationRule, env map[string]any) *ErrorDetail {
	prog := r.Program()
	if prog == nil {
		var err error
		prog, err = expr.Compile(r.Expression, expr.AsBool())
		if err != nil {
			return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule compile error: %v", err)}
		}
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}
	if ok, _ := out.(bool); ok {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("rule failed: %s", r.Expression)
	}
	return &ErrorDetail{Rule: "expression", Message: msg}
}

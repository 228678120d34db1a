// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// condition is a compiled CEL guard over the rule variables.
//
// Each variable is a map(string, string) holding "id", "type" and the
// node's scalar properties, so "a.type == 'Authority'" and
// "has(a.jurisdiction)" both work.
type condition struct {
	prg cel.Program
}

func compileCondition(expr string, vars []string) (*condition, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.StringType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", expr, iss.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("condition %q must return bool, got %v", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building condition program: %w", err)
	}
	return &condition{prg: prg}, nil
}

// eval runs the condition. Evaluation errors, such as reading a missing
// key, count as false.
func (c *condition) eval(activation map[string]any) bool {
	out, _, err := c.prg.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

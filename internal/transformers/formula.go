package transformers

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Formula expressions are sourced from configuration files, so construction is
// a security boundary: only the single variable "value" and a whitelisted math
// namespace are accepted, and anything resembling code execution or property
// access is rejected before the expression is ever compiled.

var formulaFunctions = map[string]any{
	"abs":   math.Abs,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"round": math.Round,
	"trunc": math.Trunc,
	"max":   math.Max,
	"min":   math.Min,
	"pow":   math.Pow,
	"sqrt":  math.Sqrt,
	"log":   math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
	"sign": func(v float64) float64 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	},
}

var forbiddenFragments = []string{
	"process", "require", "eval", "function", "global",
	"this", "import", "=>", "__", ".", "[", "{",
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

type formulaTransformer struct {
	directional
	readProgram  *vm.Program
	writeProgram *vm.Program
}

func newFormula(def Definition) (Transformer, error) {
	if def.ReadExpression == "" && def.WriteExpression == "" {
		return nil, fmt.Errorf("formula transformer requires read_expression or write_expression")
	}

	t := &formulaTransformer{directional: newDirectional(def.Direction)}

	var err error
	if def.ReadExpression != "" {
		if t.readProgram, err = compileFormula(def.ReadExpression); err != nil {
			return nil, fmt.Errorf("read expression: %w", err)
		}
	}
	if def.WriteExpression != "" {
		if t.writeProgram, err = compileFormula(def.WriteExpression); err != nil {
			return nil, fmt.Errorf("write expression: %w", err)
		}
	}

	return t, nil
}

func compileFormula(expression string) (*vm.Program, error) {
	if err := checkFormulaSafety(expression); err != nil {
		return nil, err
	}

	env := formulaEnv(0)
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", expression, err)
	}
	return program, nil
}

func checkFormulaSafety(expression string) error {
	lowered := strings.ToLower(expression)
	for _, fragment := range forbiddenFragments {
		if fragment == "." {
			// Bare decimals like 2.5 are fine; identifier access like a.b is not.
			if regexp.MustCompile(`[A-Za-z_)\]]\s*\.`).MatchString(expression) {
				return fmt.Errorf("formula %q contains property access", expression)
			}
			continue
		}
		if strings.Contains(lowered, fragment) {
			return fmt.Errorf("formula %q contains forbidden fragment %q", expression, fragment)
		}
	}

	for _, ident := range identifierPattern.FindAllString(expression, -1) {
		if ident == "value" {
			continue
		}
		if _, ok := formulaFunctions[ident]; !ok {
			return fmt.Errorf("formula %q references unknown identifier %q", expression, ident)
		}
	}

	return nil
}

func formulaEnv(value float64) map[string]any {
	env := make(map[string]any, len(formulaFunctions)+1)
	for name, fn := range formulaFunctions {
		env[name] = fn
	}
	env["value"] = value
	return env
}

func (t *formulaTransformer) Read(value any) (any, error) {
	if !t.CanRead() || t.readProgram == nil {
		return value, nil
	}
	return t.evaluate(t.readProgram, value)
}

func (t *formulaTransformer) Write(value any) (any, error) {
	if !t.CanWrite() || t.writeProgram == nil {
		return value, nil
	}
	return t.evaluate(t.writeProgram, value)
}

func (t *formulaTransformer) evaluate(program *vm.Program, value any) (any, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, fmt.Errorf("formula input: %w", err)
	}

	out, err := expr.Run(program, formulaEnv(f))
	if err != nil {
		return nil, fmt.Errorf("formula evaluation failed: %w", err)
	}

	result, err := toFloat(out)
	if err != nil {
		return nil, fmt.Errorf("formula produced non-numeric result %v", out)
	}
	return result, nil
}

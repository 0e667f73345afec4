package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// CalculatorInfo describes the Calculator plugin.
var CalculatorInfo = plugin.Info{
	Name:        "Calculator",
	Description: "Provides mathematical calculation capabilities",
	Version:     "1.0.0",
}

var errDivisionByZero = errors.New("division by zero")

// Calculator implements arithmetic functions.
type Calculator struct{}

func binary(name, desc string, op func(a, b float64) (float64, error)) plugin.Descriptor {
	return plugin.Descriptor{
		Plugin: "Calculator", Name: name, Description: desc,
		Params: plugin.Schema{
			{Name: "a", Type: plugin.TypeNumber, Required: true, Description: "First number"},
			{Name: "b", Type: plugin.TypeNumber, Required: true, Description: "Second number"},
		},
		Handler: func(_ context.Context, args plugin.Args) (string, error) {
			v, err := op(args.Float("a"), args.Float("b"))
			if err != nil {
				return "", err
			}
			if math.IsInf(v, 0) || math.IsNaN(v) {
				return "", fmt.Errorf("%s result is not a finite number", name)
			}
			return formatNumber(v), nil
		},
	}
}

// Descriptors lists the Calculator functions.
func (Calculator) Descriptors() []plugin.Descriptor {
	const p = "Calculator"
	return []plugin.Descriptor{
		binary("add", "Add two numbers together", func(a, b float64) (float64, error) { return a + b, nil }),
		binary("subtract", "Subtract b from a", func(a, b float64) (float64, error) { return a - b, nil }),
		binary("multiply", "Multiply two numbers", func(a, b float64) (float64, error) { return a * b, nil }),
		binary("divide", "Divide a by b", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, errDivisionByZero
			}
			return a / b, nil
		}),
		binary("power", "Raise a to the power of b", func(a, b float64) (float64, error) { return math.Pow(a, b), nil }),
		{
			Plugin: p, Name: "square_root", Description: "Calculate the square root of a number",
			Params: plugin.Schema{{Name: "a", Type: plugin.TypeNumber, Required: true}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				a := args.Float("a")
				if a < 0 {
					return "", errors.New("cannot calculate square root of negative number")
				}
				return formatNumber(math.Sqrt(a)), nil
			},
		},
		{
			Plugin: p, Name: "percentage", Description: "Calculate the percentage of a value",
			Params: plugin.Schema{
				{Name: "value", Type: plugin.TypeNumber, Required: true, Description: "The base value"},
				{Name: "percent", Type: plugin.TypeNumber, Required: true, Description: "The percentage to calculate"},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				return formatNumber(args.Float("value") * args.Float("percent") / 100), nil
			},
		},
		{
			Plugin: p, Name: "evaluate", Description: "Evaluate a simple mathematical expression (+, -, *, /, **, %, parentheses)",
			Params: plugin.Schema{{Name: "expression", Type: plugin.TypeString, Required: true}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				v, err := Evaluate(args.String("expression"))
				if err != nil {
					return "", err
				}
				return formatNumber(v), nil
			},
		},
		{
			Plugin: p, Name: "celsius_to_fahrenheit", Description: "Convert celsius to fahrenheit",
			Params: plugin.Schema{{Name: "celsius", Type: plugin.TypeNumber, Required: true}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				return fmt.Sprintf("%.2f°F", args.Float("celsius")*9/5+32), nil
			},
		},
		{
			Plugin: p, Name: "fahrenheit_to_celsius", Description: "Convert fahrenheit to celsius",
			Params: plugin.Schema{{Name: "fahrenheit", Type: plugin.TypeNumber, Required: true}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				return fmt.Sprintf("%.2f°C", (args.Float("fahrenheit")-32)*5/9), nil
			},
		},
	}
}

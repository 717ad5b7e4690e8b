// Command gen_reference regenerates the markdown reference docs from the
// source of truth: the typed constants and schema structs in the library.
//
// Run from the repository root:
//
//	go run ./scripts/gen_reference.go
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

func main() {
	var reasonsOut, schemaOut string
	flag.StringVar(&reasonsOut, "reasons-out", "docs/reference/reason-codes.md", "output markdown path for reason codes and taxonomy")
	flag.StringVar(&schemaOut, "schema-out", "docs/reference/policy-schema.md", "output markdown path for policy schema")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		fail(err)
	}

	if err := generateReasonCodes(root, reasonsOut); err != nil {
		fail(err)
	}
	if err := generatePolicySchema(root, schemaOut); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "gen_reference:", err)
	os.Exit(1)
}

func generateReasonCodes(root, outPath string) error {
	budgetReasons, err := stringConsts(filepath.Join(root, "budget", "types.go"), "Reason")
	if err != nil {
		return err
	}
	circuitReasons, err := stringConsts(filepath.Join(root, "circuit", "types.go"), "Reason")
	if err != nil {
		return err
	}

	classifyFile := filepath.Join(root, "classify", "classification.go")
	categories, err := typedConsts(classifyFile, "Category")
	if err != nil {
		return err
	}
	severities, err := typedConsts(classifyFile, "Severity")
	if err != nil {
		return err
	}
	strategies, err := typedConsts(classifyFile, "Strategy")
	if err != nil {
		return err
	}

	structs, err := structFields(filepath.Join(root, "observe", "types.go"),
		[]string{"Progress", "AttemptRecord", "Trace"})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# Reason codes and failure taxonomy\n\n")
	buf.WriteString("Generated by `scripts/gen_reference.go`. Do not edit by hand.\n\n")

	buf.WriteString("## Budget decision reasons\n\n")
	buf.WriteString("These values appear on `budget.Decision.Reason`.\n\n")
	writeValueList(&buf, budgetReasons)

	buf.WriteString("## Circuit breaker reasons\n\n")
	buf.WriteString("These values appear on `circuit.Decision.Reason`.\n\n")
	writeValueList(&buf, circuitReasons)

	buf.WriteString("## Error categories\n\n")
	writeValueList(&buf, categories)
	buf.WriteString("## Severities\n\n")
	writeValueList(&buf, severities)
	buf.WriteString("## Strategies\n\n")
	writeValueList(&buf, strategies)

	buf.WriteString("## Observability records\n\n")
	for _, name := range []string{"Progress", "AttemptRecord", "Trace"} {
		writeStruct(&buf, name, structs[name])
	}

	return writeFileMkdir(outPath, buf.Bytes())
}

func generatePolicySchema(root, outPath string) error {
	structs := map[string][]field{}

	keyStructs, err := structFields(filepath.Join(root, "policy", "key.go"), []string{"PolicyKey"})
	if err != nil {
		return err
	}
	for k, v := range keyStructs {
		structs[k] = v
	}

	schemaNames := []string{
		"BudgetRef",
		"RetryPolicy",
		"CircuitPolicy",
		"UpdatePolicy",
		"NormalizationInfo",
		"Metadata",
		"EffectivePolicy",
	}
	schemaStructs, err := structFields(filepath.Join(root, "policy", "schema.go"), schemaNames)
	if err != nil {
		return err
	}
	for k, v := range schemaStructs {
		structs[k] = v
	}

	schemaFile := filepath.Join(root, "policy", "schema.go")
	jitters, err := typedConsts(schemaFile, "JitterKind")
	if err != nil {
		return err
	}
	sources, err := typedConsts(schemaFile, "PolicySource")
	if err != nil {
		return err
	}
	limits, err := namedConsts(schemaFile, []string{
		"maxRetryAttempts",
		"maxUpdateRetries",
		"minDelayFloor",
		"maxDelayCeiling",
		"minTimeoutFloor",
		"maxBackoffMultiplier",
		"minCircuitThreshold",
		"minCircuitCooldown",
		"maxHistoryCeiling",
	})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# Policy schema\n\n")
	buf.WriteString("Generated by `scripts/gen_reference.go`. Do not edit by hand.\n\n")

	buf.WriteString("## Structures\n\n")
	writeStruct(&buf, "PolicyKey", structs["PolicyKey"])
	for _, name := range schemaNames {
		writeStruct(&buf, name, structs[name])
	}

	buf.WriteString("## Jitter kinds\n\n")
	writeValueList(&buf, jitters)
	buf.WriteString("## Policy sources\n\n")
	writeValueList(&buf, sources)

	buf.WriteString("## Normalization limits\n\n")
	buf.WriteString("| Constant | Value |\n|---|---|\n")
	for _, c := range limits {
		fmt.Fprintf(&buf, "| `%s` | `%s` |\n", c.name, c.value)
	}
	buf.WriteString("\n")

	return writeFileMkdir(outPath, buf.Bytes())
}

type field struct {
	name string
	typ  string
	tag  string
}

type constant struct {
	name  string
	value string
}

func parse(path string) (*token.FileSet, *ast.File, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fset, file, nil
}

// stringConsts collects untyped string constants whose name carries the given
// prefix.
func stringConsts(path, prefix string) ([]string, error) {
	_, file, err := parse(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if !strings.HasPrefix(name.Name, prefix) || i >= len(vs.Values) {
					continue
				}
				if lit, ok := vs.Values[i].(*ast.BasicLit); ok && lit.Kind == token.STRING {
					if v, err := strconv.Unquote(lit.Value); err == nil {
						out = append(out, v)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// typedConsts collects the string values of constants declared with the given
// named type.
func typedConsts(path, typeName string) ([]string, error) {
	_, file, err := parse(path)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			ident, ok := vs.Type.(*ast.Ident)
			if !ok || ident.Name != typeName {
				continue
			}
			for _, value := range vs.Values {
				if lit, ok := value.(*ast.BasicLit); ok && lit.Kind == token.STRING {
					if v, err := strconv.Unquote(lit.Value); err == nil {
						out = append(out, v)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// namedConsts collects the literal source text of specific constants,
// preserving declaration order of names.
func namedConsts(path string, names []string) ([]constant, error) {
	fset, file, err := parse(path)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	found := map[string]string{}
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if !wanted[name.Name] || i >= len(vs.Values) {
					continue
				}
				var sb strings.Builder
				if err := printer.Fprint(&sb, fset, vs.Values[i]); err != nil {
					return nil, err
				}
				found[name.Name] = sb.String()
			}
		}
	}

	var out []constant
	for _, n := range names {
		if v, ok := found[n]; ok {
			out = append(out, constant{name: n, value: v})
		}
	}
	return out, nil
}

// structFields collects the exported fields of the named structs.
func structFields(path string, names []string) (map[string][]field, error) {
	fset, file, err := parse(path)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	out := map[string][]field{}
	ast.Inspect(file, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok || !wanted[ts.Name.Name] {
			return true
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return true
		}

		var fields []field
		for _, f := range st.Fields.List {
			var sb strings.Builder
			if err := printer.Fprint(&sb, fset, f.Type); err != nil {
				continue
			}
			tag := ""
			if f.Tag != nil {
				tag = strings.Trim(f.Tag.Value, "`")
			}
			for _, name := range f.Names {
				if !name.IsExported() {
					continue
				}
				fields = append(fields, field{name: name.Name, typ: sb.String(), tag: tag})
			}
		}
		out[ts.Name.Name] = fields
		return true
	})
	return out, nil
}

func writeValueList(buf *bytes.Buffer, values []string) {
	for _, v := range values {
		fmt.Fprintf(buf, "- `%s`\n", v)
	}
	buf.WriteString("\n")
}

func writeStruct(buf *bytes.Buffer, name string, fields []field) {
	fmt.Fprintf(buf, "### %s\n\n", name)
	if len(fields) == 0 {
		buf.WriteString("_no exported fields_\n\n")
		return
	}
	buf.WriteString("| Field | Type | Tag |\n|---|---|---|\n")
	for _, f := range fields {
		tag := f.tag
		if tag == "" {
			tag = "-"
		} else {
			tag = "`" + tag + "`"
		}
		fmt.Fprintf(buf, "| `%s` | `%s` | %s |\n", f.name, f.typ, tag)
	}
	buf.WriteString("\n")
}

func writeFileMkdir(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

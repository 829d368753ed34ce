package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mediawish/pkg/domain"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// wireTypes ties every documented payload schema to the Go type encoded on the wire.
var wireTypes = map[string]reflect.Type{
	"WishView":       reflect.TypeOf(domain.WishView{}),
	"CatalogSummary": reflect.TypeOf(domain.CatalogSummary{}),
	"WishStats":      reflect.TypeOf(domain.WishStats{}),
}

// servedRoutes lists method and path of every API route on the mux.
var servedRoutes = []struct {
	Method string
	Path   string
}{
	{"get", "/healthz"},
	{"post", "/api/users/login"},
	{"post", "/api/admin/login"},
	{"get", "/api/search-tmdb"},
	{"post", "/api/wishes"},
	{"get", "/api/wishes/me"},
	{"get", "/api/admin/wishes"},
	{"put", "/api/admin/wishes/{id}"},
	{"post", "/api/admin/admins"},
	{"post", "/api/admin/users"},
	{"get", "/api/admin/stats"},
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func checkDoc(doc openAPIDoc) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	detail, err := getSchema(doc, "ErrorDetail")
	if err != nil {
		return err
	}
	if err := validateErrorDetail(detail); err != nil {
		return err
	}
	names := make([]string, 0, len(wireTypes))
	for name := range wireTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := getSchema(doc, name)
		if err != nil {
			return err
		}
		if err := ensureSameFields(name, s, wireTypes[name]); err != nil {
			return err
		}
	}
	return ensureRoutes(doc)
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "array" {
		return errors.New("ErrorResponse.details must be array")
	}
	if detailsProp.Items == nil || strings.TrimSpace(detailsProp.Items.Ref) != "#/components/schemas/ErrorDetail" {
		return errors.New("ErrorResponse.details.items must reference ErrorDetail")
	}
	return nil
}

func validateErrorDetail(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorDetail must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"field", "message"} {
		if !required[field] {
			return fmt.Errorf("ErrorDetail.required must include %q", field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorDetail.%s must be string", field)
		}
	}
	return nil
}

func ensureSameFields(name string, s schema, t reflect.Type) error {
	want := jsonFields(t)
	got := make([]string, 0, len(s.Properties))
	for prop := range s.Properties {
		got = append(got, prop)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%s properties mismatch: documented %v, encoded %v", name, got, want)
	}
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fmt.Errorf("%s requires undocumented property %q", name, req)
		}
	}
	return nil
}

// jsonFields returns the sorted JSON names of t, flattening embedded structs.
func jsonFields(t reflect.Type) []string {
	var out []string
	var walk func(reflect.Type)
	walk = func(t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := f.Tag.Get("json")
			name := strings.Split(tag, ",")[0]
			if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
				walk(f.Type)
				continue
			}
			if !f.IsExported() || name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			out = append(out, name)
		}
	}
	walk(t)
	sort.Strings(out)
	return out
}

func ensureRoutes(doc openAPIDoc) error {
	var missing []string
	for _, route := range servedRoutes {
		ops, ok := doc.Paths[route.Path]
		if !ok {
			missing = append(missing, strings.ToUpper(route.Method)+" "+route.Path)
			continue
		}
		if _, ok := ops[route.Method]; !ok {
			missing = append(missing, strings.ToUpper(route.Method)+" "+route.Path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("routes not documented: %s", strings.Join(missing, ", "))
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

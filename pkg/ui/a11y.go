package ui

import "regexp"

// Exact matches s literally and in full.
func Exact(s string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(s) + "$")
}

// Role-first lookups with exact accessible names.

func Button(scope Scope, name string) Locator {
	return scope.ByRole("button", RoleOptions{Name: Exact(name)})
}

func Link(scope Scope, name string) Locator {
	return scope.ByRole("link", RoleOptions{Name: Exact(name)})
}

func Heading(scope Scope, name string) Locator {
	return scope.ByRole("heading", RoleOptions{Name: Exact(name)})
}

func Img(scope Scope, name string) Locator {
	return scope.ByRole("img", RoleOptions{Name: Exact(name)})
}

func Textbox(scope Scope, name string) Locator {
	return scope.ByRole("textbox", RoleOptions{Name: Exact(name)})
}

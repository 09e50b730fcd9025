package utils

import (
	"regexp"
	"strings"

	"leadflow/models"
)

var templateVarPattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// ExtractTemplateVariables scans subject and body for {{identifier}}
// tokens and returns the union in first-encountered order. Names are
// case-sensitive and not checked against any known field list.
func ExtractTemplateVariables(subject, body string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, text := range []string{subject, body} {
		for _, match := range templateVarPattern.FindAllStringSubmatch(text, -1) {
			name := match[1]
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// SubstitutionMap builds the variable map for a contact: the built-in
// derived fields overlaid with the contact's custom fields. Custom
// fields win on key collision.
func SubstitutionMap(contact *models.Contact) map[string]string {
	firstName, lastName := splitName(contact.Name)
	sub := map[string]string{
		"name":      contact.Name,
		"email":     contact.Email,
		"company":   contact.Company,
		"firstName": firstName,
		"lastName":  lastName,
	}
	for k, v := range contact.FieldMap() {
		sub[k] = v
	}
	return sub
}

// RenderTemplate substitutes the contact's fields into the template's
// subject and body. Substitution is literal: every {{key}} occurrence
// for a key present in the map is replaced, and keys with no data are
// left in place as-is. Input is trusted internal content, no escaping.
func RenderTemplate(tpl *models.Template, contact *models.Contact) (subject, body string) {
	sub := SubstitutionMap(contact)
	subject = substitute(tpl.Subject, sub)
	body = substitute(tpl.Body, sub)
	return subject, body
}

func substitute(text string, sub map[string]string) string {
	for key, value := range sub {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}

// splitName returns the first whitespace-delimited token of a full
// name and the remaining tokens joined by a space.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

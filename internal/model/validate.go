package model

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	namePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,15}$`)
	emailPattern    = regexp.MustCompile(`^[\w.+-]+@[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)
	publicIDPattern = regexp.MustCompile(`^U[a-z]{5,}$`)
)

func CheckName(name string) bool {
	return namePattern.MatchString(name)
}

func CheckEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

func CheckPublicID(id string) bool {
	return publicIDPattern.MatchString(id)
}

func CheckURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// TrimDescription collapses whitespace and bounds free-form profile text.
func TrimDescription(desc string) string {
	desc = strings.Join(strings.Fields(desc), " ")
	if len(desc) > 512 {
		desc = desc[:512]
	}
	return desc
}

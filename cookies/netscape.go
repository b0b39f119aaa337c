package cookies

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const netscapeHeader = "# Netscape HTTP Cookie File"

const httpOnlyPrefix = "#HttpOnly_"

var ErrNoCookies = errors.New("no cookies in file")

type Cookie struct {
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  int64 // unix seconds, 0 for session cookies
	Name     string
	Value    string
}

// Serialize writes cookies in the Netscape format read by curl and yt-dlp.
func Serialize(cookies []Cookie) []byte {
	var b bytes.Buffer
	b.WriteString(netscapeHeader + "\n")
	b.WriteString("# This file was generated by vrschool-media. Do not edit.\n\n")
	for _, c := range cookies {
		domain := c.Domain
		if c.HTTPOnly {
			domain = httpOnlyPrefix + domain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain,
			boolField(strings.HasPrefix(c.Domain, ".")),
			path,
			boolField(c.Secure),
			c.Expires,
			c.Name,
			c.Value)
	}
	return b.Bytes()
}

// Parse reads a Netscape cookie file. Comment and blank lines are skipped;
// a malformed cookie line is an error.
func Parse(data []byte) ([]Cookie, error) {
	var cookies []Cookie
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: want 7 tab-separated fields, got %d", lineNo, len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad expiry %q", lineNo, fields[4])
		}
		cookies = append(cookies, Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			HTTPOnly: httpOnly,
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, ErrNoCookies
	}
	return cookies, nil
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// Copyright (C) 2025 The Apollo Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package nvhttp

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strconv"
)

// GameStream responses are small XML documents rooted at <root>, with the
// protocol status carried in attributes rather than the HTTP status line.
// The transport status is always 200; clients only look at status_code.

type xmlAttr struct {
	key, value string
}

type xmlNode struct {
	name     string
	attrs    []xmlAttr
	text     string
	children []*xmlNode
}

// newRoot returns a <root> element with the given status_code attribute.
func newRoot(statusCode int) *xmlNode {
	n := &xmlNode{name: "root"}
	n.setAttr("status_code", strconv.Itoa(statusCode))
	return n
}

func (n *xmlNode) setAttr(key, value string) {
	for i := range n.attrs {
		if n.attrs[i].key == key {
			n.attrs[i].value = value
			return
		}
	}
	n.attrs = append(n.attrs, xmlAttr{key, value})
}

func (n *xmlNode) setStatus(code int, message string) {
	n.setAttr("status_code", strconv.Itoa(code))
	n.setAttr("status_message", message)
}

// add appends a child element holding the given text.
func (n *xmlNode) add(name, value string) {
	n.children = append(n.children, &xmlNode{name: name, text: value})
}

func (n *xmlNode) addInt(name string, value int) {
	n.add(name, strconv.Itoa(value))
}

// child appends and returns an empty child element.
func (n *xmlNode) child(name string) *xmlNode {
	c := &xmlNode{name: name}
	n.children = append(n.children, c)
	return c
}

func (n *xmlNode) render() []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	n.renderTo(&buf)
	return buf.Bytes()
}

func (n *xmlNode) renderTo(buf *bytes.Buffer) {
	buf.WriteByte('<')
	buf.WriteString(n.name)
	for _, attr := range n.attrs {
		buf.WriteByte(' ')
		buf.WriteString(attr.key)
		buf.WriteString(`="`)
		xml.EscapeText(buf, []byte(attr.value))
		buf.WriteByte('"')
	}
	if n.text == "" && len(n.children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	xml.EscapeText(buf, []byte(n.text))
	for _, c := range n.children {
		c.renderTo(buf)
	}
	buf.WriteString("</")
	buf.WriteString(n.name)
	buf.WriteByte('>')
}

func writeXML(w http.ResponseWriter, root *xmlNode) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Connection", "close")
	if _, err := w.Write(root.render()); err != nil {
		l.Debugln("writing response:", err)
	}
}

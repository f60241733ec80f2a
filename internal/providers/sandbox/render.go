package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var tagPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// attribute names the serializer can write without quoting
var attrPattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:.-]*$`)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// props that never become attributes
var reservedProps = map[string]bool{
	"children":                 true,
	"key":                      true,
	"ref":                      true,
	"dangerouslySetInnerHTML":  true,
	"suppressHydrationWarning": true,
}

var attrAliases = map[string]string{
	"className": "class",
	"htmlFor":   "for",
	"tabIndex":  "tabindex",
	"readOnly":  "readonly",
	"maxLength": "maxlength",
	"autoFocus": "autofocus",
}

var unitlessStyles = map[string]bool{
	"opacity": true, "zIndex": true, "fontWeight": true, "lineHeight": true,
	"flex": true, "flexGrow": true, "flexShrink": true, "order": true, "zoom": true,
}

// renderer walks element descriptions produced by the prelude runtime and
// builds an HTML node tree. Components are invoked as it goes.
type renderer struct {
	vm       *goja.Runtime
	vnode    goja.Value
	fragment goja.Value
	maxDepth int
}

func (rn *renderer) render(v goja.Value, parent *html.Node, depth int) error {
	if depth > rn.maxDepth {
		return ErrDepthExceeded
	}
	if isNullish(v) {
		return nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		if _, isBool := v.Export().(bool); isBool {
			return nil
		}
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: v.String()})
		return nil
	}

	if obj.ClassName() == "Array" {
		length := obj.Get("length").ToInteger()
		for i := int64(0); i < length; i++ {
			if err := rn.render(obj.Get(strconv.FormatInt(i, 10)), parent, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if _, isFunc := goja.AssertFunction(obj); isFunc {
		return nil
	}

	marker := obj.Get("$$typeof")
	if marker == nil || !marker.SameAs(rn.vnode) {
		keys := obj.Keys()
		sort.Strings(keys)
		return fmt.Errorf("objects are not valid as a UI child (found: object with keys {%s})", strings.Join(keys, ", "))
	}

	typ := obj.Get("type")
	props := obj.Get("props")
	propsObj, _ := props.(*goja.Object)
	if propsObj == nil {
		propsObj = rn.vm.NewObject()
	}

	switch {
	case isNullish(typ):
		return fmt.Errorf("element type is invalid: got undefined")
	case typ.SameAs(rn.fragment):
		return rn.render(propsObj.Get("children"), parent, depth+1)
	}

	if fn, isObj := typ.(*goja.Object); isObj {
		if context, isProvider := fn.Get("_context").(*goja.Object); isProvider {
			return rn.provider(context, propsObj, parent, depth)
		}
		return rn.component(fn, propsObj, parent, depth)
	}
	return rn.element(typ.String(), propsObj, parent, depth)
}

func (rn *renderer) component(fn *goja.Object, props *goja.Object, parent *html.Node, depth int) error {
	if isClassComponent(fn) {
		ctor, ok := goja.AssertConstructor(fn)
		if !ok {
			return fmt.Errorf("component class is not constructible")
		}
		instance, err := ctor(nil, props)
		if err != nil {
			return err
		}
		if isNullish(instance.Get("props")) {
			if err := instance.Set("props", props); err != nil {
				return err
			}
		}
		render, ok := goja.AssertFunction(instance.Get("render"))
		if !ok {
			return fmt.Errorf("component instance has no render method")
		}
		out, err := render(instance)
		if err != nil {
			return err
		}
		return rn.render(out, parent, depth+1)
	}

	call, ok := goja.AssertFunction(fn)
	if !ok {
		return fmt.Errorf("element type is invalid: expected a string or a function, got %s", fn.ClassName())
	}
	out, err := call(goja.Undefined(), props)
	if err != nil {
		return err
	}
	return rn.render(out, parent, depth+1)
}

// provider exposes props.value to its children and restores the outer
// value once they are rendered
func (rn *renderer) provider(context *goja.Object, props *goja.Object, parent *html.Node, depth int) error {
	previous := orUndefined(context.Get("_currentValue"))
	if err := context.Set("_currentValue", orUndefined(props.Get("value"))); err != nil {
		return err
	}
	err := rn.render(props.Get("children"), parent, depth+1)
	if restoreErr := context.Set("_currentValue", previous); err == nil {
		err = restoreErr
	}
	return err
}

func (rn *renderer) element(tag string, props *goja.Object, parent *html.Node, depth int) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("invalid element tag %q", tag)
	}

	node := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}

	for _, key := range props.Keys() {
		if reservedProps[key] || isEventHandler(key) {
			continue
		}
		attr, ok := rn.attribute(key, props.Get(key))
		if ok {
			node.Attr = append(node.Attr, attr)
		}
	}

	parent.AppendChild(node)
	if voidElements[tag] {
		return nil
	}
	return rn.render(props.Get("children"), node, depth+1)
}

func (rn *renderer) attribute(key string, val goja.Value) (html.Attribute, bool) {
	if isNullish(val) {
		return html.Attribute{}, false
	}

	name := key
	if alias, ok := attrAliases[key]; ok {
		name = alias
	}
	if !attrPattern.MatchString(name) {
		return html.Attribute{}, false
	}

	if obj, isObj := val.(*goja.Object); isObj {
		if key != "style" {
			return html.Attribute{}, false
		}
		css := styleText(obj)
		if css == "" {
			return html.Attribute{}, false
		}
		return html.Attribute{Key: name, Val: css}, true
	}

	if b, isBool := val.Export().(bool); isBool {
		enumerated := strings.HasPrefix(name, "aria-") || strings.HasPrefix(name, "data-")
		switch {
		case enumerated:
			return html.Attribute{Key: name, Val: strconv.FormatBool(b)}, true
		case b:
			return html.Attribute{Key: name, Val: ""}, true
		default:
			return html.Attribute{}, false
		}
	}

	return html.Attribute{Key: name, Val: val.String()}, true
}

func styleText(style *goja.Object) string {
	var decls []string
	for _, key := range style.Keys() {
		val := style.Get(key)
		if isNullish(val) {
			continue
		}
		if _, isBool := val.Export().(bool); isBool {
			continue
		}

		text := val.String()
		switch n := val.Export().(type) {
		case int64:
			if n != 0 && !unitlessStyles[key] {
				text += "px"
			}
		case float64:
			if n != 0 && !unitlessStyles[key] {
				text += "px"
			}
		}
		decls = append(decls, cssProperty(key)+":"+text)
	}
	return strings.Join(decls, ";")
}

// cssProperty turns a camelCase style key into its CSS property name
func cssProperty(key string) string {
	if strings.HasPrefix(key, "--") {
		return key
	}
	var b strings.Builder
	for i, c := range key {
		if unicode.IsUpper(c) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isEventHandler(key string) bool {
	return len(key) > 2 && strings.HasPrefix(key, "on") && unicode.IsUpper(rune(key[2]))
}

func isClassComponent(fn *goja.Object) bool {
	proto, ok := fn.Get("prototype").(*goja.Object)
	if !ok {
		return false
	}
	_, hasRender := goja.AssertFunction(proto.Get("render"))
	return hasRender
}

func orUndefined(v goja.Value) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return v
}

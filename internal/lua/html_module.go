package lua

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lua "github.com/yuin/gopher-lua"
)

const luaSelectionTypeName = "html_selection"

// HTMLModule lets scripts query HTML with CSS selectors:
//
//	local doc = html.parse(body)
//	for _, img in ipairs(doc:select("img")) do print(img:attr("src")) end
type HTMLModule struct{}

func NewHTMLModule() *HTMLModule {
	return &HTMLModule{}
}

func (h *HTMLModule) Name() string {
	return "html"
}

func (h *HTMLModule) Register(L *lua.LState) error {
	mt := L.NewTypeMetatable(luaSelectionTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"select":     h.htmlSelect,
		"select_one": h.htmlSelectOne,
		"text":       h.htmlText,
		"attr":       h.htmlAttr,
		"html":       h.htmlHTML,
	}))

	htmlTable := L.NewTable()
	L.SetField(htmlTable, "parse", L.NewFunction(h.htmlParse))
	L.SetField(htmlTable, "media", L.NewFunction(h.htmlMedia))

	L.SetGlobal("html", htmlTable)
	return nil
}

func (h *HTMLModule) wrap(L *lua.LState, s *goquery.Selection) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(luaSelectionTypeName))
	return ud
}

func (h *HTMLModule) check(L *lua.LState, n int) *goquery.Selection {
	ud := L.CheckUserData(n)
	s, ok := ud.Value.(*goquery.Selection)
	if !ok {
		L.ArgError(n, "expected html selection")
		return nil
	}
	return s
}

func (h *HTMLModule) htmlParse(L *lua.LState) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(L.CheckString(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to parse HTML: %s", err.Error())))
		return 2
	}

	L.Push(h.wrap(L, doc.Selection))
	return 1
}

func (h *HTMLModule) htmlSelect(L *lua.LState) int {
	selection := h.check(L, 1).Find(L.CheckString(2))

	elements := L.NewTable()
	selection.Each(func(_ int, s *goquery.Selection) {
		elements.Append(h.wrap(L, s))
	})

	L.Push(elements)
	return 1
}

func (h *HTMLModule) htmlSelectOne(L *lua.LState) int {
	selection := h.check(L, 1).Find(L.CheckString(2)).First()
	if selection.Length() == 0 {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(h.wrap(L, selection))
	return 1
}

func (h *HTMLModule) htmlText(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(h.check(L, 1).Text())))
	return 1
}

func (h *HTMLModule) htmlAttr(L *lua.LState) int {
	attrValue, exists := h.check(L, 1).Attr(L.CheckString(2))
	if !exists {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(lua.LString(attrValue))
	return 1
}

func (h *HTMLModule) htmlHTML(L *lua.LState) int {
	htmlContent, err := h.check(L, 1).Html()
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to get HTML: %s", err.Error())))
		return 2
	}

	L.Push(lua.LString(htmlContent))
	return 1
}

// htmlMedia returns the src of every img, video and video source element.
func (h *HTMLModule) htmlMedia(L *lua.LState) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(L.CheckString(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to parse HTML: %s", err.Error())))
		return 2
	}

	urls := L.NewTable()
	doc.Find("img[src], video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			urls.Append(lua.LString(src))
		}
	})

	L.Push(urls)
	return 1
}

package lazyload

import (
	"encoding/base64"
	"fmt"
	"html"
)

// PlaceholderImage is the inert stand-in shown until an item is loaded.
var PlaceholderImage = svgDataURI(`<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100" viewBox="0 0 100 100"><rect width="100" height="100" fill="#eeeeee"/></svg>`)

// FallbackImage renders the inline graphic shown for an item that failed to load.
func FallbackImage(label string) string {
	if label == "" {
		label = "Failed to load"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="100" height="100" viewBox="0 0 100 100">`+
		`<rect width="100" height="100" fill="#f5f5f5" stroke="#cccccc"/>`+
		`<path d="M35 35 L65 65 M65 35 L35 65" stroke="#d9534f" stroke-width="4"/>`+
		`<text x="50" y="85" font-family="sans-serif" font-size="9" fill="#888888" text-anchor="middle">%s</text>`+
		`</svg>`, html.EscapeString(label))
	return svgDataURI(svg)
}

func svgDataURI(svg string) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

package render

// Theme holds colors for call graph rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by call kind.
	EdgeDirect     string // direct managed calls
	EdgeVirtual    string // vtable, interface and generic dispatch
	EdgeTail       string // tail calls
	EdgeICall      string // internal calls resolved by name
	EdgeRuntime    string // allocation and string helpers
	EdgeUnresolved string // no kind recorded

	// Node accents.
	EntryBorder  string // functions nothing calls
	StubFill     string // unnamed functions (sub_xxx)
	ExternalText string // external / unresolved targets

	// Cluster styling.
	ClusterBorder string // subgraph cluster border
	ClusterLabel  string // subgraph cluster label text
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeDirect:     "#424242", // dark gray
	EdgeVirtual:    "#9E9E9E", // gray
	EdgeTail:       "#00695C", // teal
	EdgeICall:      "#E65100", // deep orange
	EdgeRuntime:    "#0B3D91", // NASA blue
	EdgeUnresolved: "#FC3D21", // NASA red

	EntryBorder:  "#0B3D91",
	StubFill:     "#ECEFF1", // blue-gray 50
	ExternalText: "#9E9E9E",

	ClusterBorder: "#BDBDBD",
	ClusterLabel:  "#757575",
}

// EdgeColor returns the color for a callgraph edge kind.
func (t Theme) EdgeColor(kind string) string {
	switch kind {
	case "direct":
		return t.EdgeDirect
	case "virtual":
		return t.EdgeVirtual
	case "tail":
		return t.EdgeTail
	case "icall":
		return t.EdgeICall
	case "runtime":
		return t.EdgeRuntime
	}
	return t.EdgeUnresolved
}

// edgeStyle returns the DOT style for a call kind.
func edgeStyle(kind string) string {
	switch kind {
	case "virtual":
		return "dotted"
	case "tail":
		return "dashed"
	}
	return "solid"
}

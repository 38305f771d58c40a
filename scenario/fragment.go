package scenario

import (
	"strconv"

	"github.com/svio-coop/go-svio/wire"
)

// Fragment names double as store paths under /scenarios/{session}/.
const (
	fragmentPoints   = "SciencePoints"
	fragmentTree     = "TechTree"
	fragmentArchives = "ScienceArchives"

	nodeBlock    = "Tech"
	archiveBlock = "Science"
)

// parseTree extracts tree entries from a TechTree fragment. Blocks that
// are not Tech blocks or carry no id are skipped and counted.
func parseTree(data []byte) ([]Node, int) {
	blocks, skipped := wire.ParseNodes(data)
	nodes := make([]Node, 0, len(blocks))
	for _, block := range blocks {
		if block.Name != nodeBlock {
			skipped++
			continue
		}
		id, ok := block.Value("id")
		if !ok || id == "" {
			skipped++
			continue
		}
		state, _ := block.Value("state")
		cost, _ := block.Float("cost")
		node := Node{ID: id, State: state, Cost: cost}
		for _, field := range block.Fields {
			switch field.Key {
			case "id", "state", "cost":
			default:
				node.Extra = append(node.Extra, field)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, skipped
}

// parseArchives extracts discovery records from a ScienceArchives
// fragment, with the same skip rules as parseTree.
func parseArchives(data []byte) ([]ArchiveRecord, int) {
	blocks, skipped := wire.ParseNodes(data)
	recs := make([]ArchiveRecord, 0, len(blocks))
	for _, block := range blocks {
		if block.Name != archiveBlock {
			skipped++
			continue
		}
		id, ok := block.Value("id")
		if !ok || id == "" {
			skipped++
			continue
		}
		points, _ := block.Float("sci")
		capacity, _ := block.Float("cap")
		rec := ArchiveRecord{ID: id, Points: points, Cap: capacity}
		for _, field := range block.Fields {
			switch field.Key {
			case "id", "sci", "cap":
			default:
				rec.Extra = append(rec.Extra, field)
			}
		}
		recs = append(recs, rec)
	}
	return recs, skipped
}

func renderTree(nodes []Node) []byte {
	blocks := make([]*wire.Node, 0, len(nodes))
	for _, node := range nodes {
		block := &wire.Node{Name: nodeBlock}
		block.Set("id", node.ID)
		block.Set("state", node.State)
		block.Set("cost", formatFloat(node.Cost))
		block.Fields = append(block.Fields, node.Extra...)
		blocks = append(blocks, block)
	}
	return wire.RenderNodes(blocks)
}

func renderArchives(recs []ArchiveRecord) []byte {
	blocks := make([]*wire.Node, 0, len(recs))
	for _, rec := range recs {
		block := &wire.Node{Name: archiveBlock}
		block.Set("id", rec.ID)
		block.Set("sci", formatFloat(rec.Points))
		block.Set("cap", formatFloat(rec.Cap))
		block.Fields = append(block.Fields, rec.Extra...)
		blocks = append(blocks, block)
	}
	return wire.RenderNodes(blocks)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Package visualization shapes a conversation tree for front-end renderers:
// a nested tree for hierarchical layouts and a flat node/edge list for graph
// layouts.
package visualization

import (
	"sort"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
)

const (
	treeNameLength   = 50
	graphLabelLength = 30
	defaultColor     = "#9ca3af"
)

var moodColors = map[conversation.Mood]string{
	conversation.MoodHappy:      "#4ade80",
	conversation.MoodExcited:    "#22c55e",
	conversation.MoodNeutral:    "#fbbf24",
	conversation.MoodCalm:       "#fde047",
	conversation.MoodSad:        "#fb923c",
	conversation.MoodFrustrated: "#f87171",
	conversation.MoodAngry:      "#ef4444",
}

// MoodColor maps a mood to its display colour, grey for anything unknown.
func MoodColor(mood conversation.Mood) string {
	if c, ok := moodColors[mood]; ok {
		return c
	}
	return defaultColor
}

type SetupSummary struct {
	GeneralSetting   string `json:"generalSetting"`
	SpecificScenario string `json:"specificScenario"`
	AgentA           string `json:"agentA"`
	AgentB           string `json:"agentB"`
}

type TreeNode struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	FullMessage     string            `json:"fullMessage"`
	Mood            conversation.Mood `json:"mood"`
	Color           string            `json:"color"`
	Agent           string            `json:"agent"`
	AgentID         string            `json:"agentId"`
	Timestamp       time.Time         `json:"timestamp"`
	IsUserOverride  bool              `json:"isUserOverride"`
	Depth           int               `json:"depth"`
	IsCurrentBranch bool              `json:"isCurrentBranch"`
	Children        []*TreeNode       `json:"children"`
}

type TreeData struct {
	ConversationID string       `json:"conversationId"`
	Setup          SetupSummary `json:"setup"`
	// TreeData is the first root; nil for an empty tree.
	TreeData   *TreeNode `json:"treeData"`
	TotalNodes int       `json:"totalNodes"`
	MaxDepth   int       `json:"maxDepth"`
}

type GraphNode struct {
	ID              string            `json:"id"`
	Label           string            `json:"label"`
	FullMessage     string            `json:"fullMessage"`
	Mood            conversation.Mood `json:"mood"`
	Color           string            `json:"color"`
	Agent           string            `json:"agent"`
	IsCurrentBranch bool              `json:"isCurrentBranch"`
	IsUserOverride  bool              `json:"isUserOverride"`
}

type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type GraphData struct {
	ConversationID string      `json:"conversationId"`
	Nodes          []GraphNode `json:"nodes"`
	Edges          []GraphEdge `json:"edges"`
}

func summarizeSetup(tree *conversation.Tree) SetupSummary {
	return SetupSummary{
		GeneralSetting:   tree.Setup.GeneralSetting,
		SpecificScenario: tree.Setup.SpecificScenario,
		AgentA:           tree.Setup.AgentA.Name,
		AgentB:           tree.Setup.AgentB.Name,
	}
}

// BuildTreeData nests the tree starting from its first root. Depth is
// bounded by the number of nodes so a malformed tree cannot recurse forever.
func BuildTreeData(tree *conversation.Tree) *TreeData {
	ret := &TreeData{
		ConversationID: tree.ID,
		Setup:          summarizeSetup(tree),
		TotalNodes:     len(tree.Nodes),
		MaxDepth:       tree.MaxDepth(),
	}
	if len(tree.RootNodes) == 0 {
		return ret
	}

	var build func(id string, depth int) *TreeNode
	build = func(id string, depth int) *TreeNode {
		node, ok := tree.Nodes[id]
		if !ok || depth > len(tree.Nodes) {
			return nil
		}
		agent := tree.Setup.AgentName(node.Message.AgentID)
		ret := &TreeNode{
			ID:              node.ID,
			Name:            agent + ": " + conversation.Truncate(node.Message.Text, treeNameLength),
			FullMessage:     node.Message.Text,
			Mood:            node.Message.Mood,
			Color:           MoodColor(node.Message.Mood),
			Agent:           agent,
			AgentID:         node.Message.AgentID,
			Timestamp:       node.Message.Timestamp,
			IsUserOverride:  node.Message.IsUserOverride,
			Depth:           depth,
			IsCurrentBranch: node.ID == tree.CurrentBranch,
			Children:        make([]*TreeNode, 0, len(node.Children)),
		}
		for _, child := range node.Children {
			if c := build(child, depth+1); c != nil {
				ret.Children = append(ret.Children, c)
			}
		}
		return ret
	}

	ret.TreeData = build(tree.RootNodes[0], 0)
	return ret
}

// BuildGraphData flattens the tree into nodes and parent->child edges,
// ordered by timestamp then id so the output is stable.
func BuildGraphData(tree *conversation.Tree) *GraphData {
	nodes := make([]*conversation.Node, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		ti, tj := nodes[i].Message.Timestamp, nodes[j].Message.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return nodes[i].ID < nodes[j].ID
	})

	ret := &GraphData{
		ConversationID: tree.ID,
		Nodes:          make([]GraphNode, 0, len(nodes)),
		Edges:          []GraphEdge{},
	}
	for _, n := range nodes {
		agent := tree.Setup.AgentName(n.Message.AgentID)
		ret.Nodes = append(ret.Nodes, GraphNode{
			ID:              n.ID,
			Label:           agent + ": " + conversation.Truncate(n.Message.Text, graphLabelLength),
			FullMessage:     n.Message.Text,
			Mood:            n.Message.Mood,
			Color:           MoodColor(n.Message.Mood),
			Agent:           agent,
			IsCurrentBranch: n.ID == tree.CurrentBranch,
			IsUserOverride:  n.Message.IsUserOverride,
		})
		if !n.IsRoot() {
			ret.Edges = append(ret.Edges, GraphEdge{From: n.ParentID, To: n.ID})
		}
	}
	return ret
}

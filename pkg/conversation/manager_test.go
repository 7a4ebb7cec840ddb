package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-go-golems/conflict-sim/pkg/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testSetup() ConversationSetup {
	return ConversationSetup{
		GeneralSetting:   "A shared flat in Berlin",
		SpecificScenario: "Who forgot to pay the electricity bill",
		AgentA: AgentConfig{
			ID:                "a-alice",
			Name:              "Alice",
			PersonalityTraits: "direct, impatient",
		},
		AgentB: AgentConfig{
			ID:                "a-bob",
			Name:              "Bob",
			PersonalityTraits: "avoidant, friendly",
		},
	}
}

func msg(agentID string, text string) Message {
	return NewMessage(agentID, text, MoodNeutral)
}

func TestManagerScenario(t *testing.T) {
	m := NewManager()
	setup := testSetup()

	tree, err := m.CreateTree(setup)
	require.NoError(t, err)
	assert.True(t, ids.HasPrefix(tree.ID, "c"))
	assert.Empty(t, tree.Nodes)
	assert.Empty(t, tree.RootNodes)
	assert.Empty(t, tree.CurrentBranch)
	assert.Equal(t, setup, tree.Setup)

	msg1 := msg("a-alice", "You forgot the bill again.")
	n1, err := m.AddMessage(tree.ID, msg1, "")
	require.NoError(t, err)
	assert.True(t, n1.IsRoot())
	assert.Equal(t, n1.ID, n1.Path)

	snapshot, ok := m.GetTree(tree.ID)
	require.True(t, ok)
	assert.Equal(t, []string{n1.ID}, snapshot.RootNodes)
	assert.Equal(t, n1.ID, snapshot.CurrentBranch)

	msg2 := msg("a-bob", "I thought it was your month.")
	n2, err := m.AddMessage(tree.ID, msg2, n1.ID)
	require.NoError(t, err)
	assert.Equal(t, n1.ID, n2.ParentID)
	assert.Equal(t, n1.ID+":"+n2.ID, n2.Path)

	snapshot, _ = m.GetTree(tree.ID)
	assert.Equal(t, []string{n2.ID}, snapshot.Nodes[n1.ID].Children)
	assert.Equal(t, n2.ID, snapshot.CurrentBranch)

	path, err := m.GetConversationPath(tree.ID, n2.ID)
	require.NoError(t, err)
	assert.Equal(t, Conversation{msg1, msg2}, path)

	require.NoError(t, m.SetCurrentBranch(tree.ID, n1.ID))
	assert.Equal(t, Conversation{msg1}, m.GetCurrentConversation(tree.ID))
}

func TestAddMessageUnknownParentLeavesTreeUnchanged(t *testing.T) {
	m := NewManager()
	tree, err := m.CreateTree(testSetup())
	require.NoError(t, err)
	root, err := m.AddMessage(tree.ID, msg("a-alice", "hi"), "")
	require.NoError(t, err)

	before, _ := m.GetTree(tree.ID)

	_, err = m.AddMessage(tree.ID, msg("a-bob", "hello"), "n-missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParentNotFound))
	var parentErr *ParentNotFoundError
	require.ErrorAs(t, err, &parentErr)
	assert.Equal(t, "n-missing", parentErr.NodeID)

	after, _ := m.GetTree(tree.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, root.ID, after.CurrentBranch)
}

func TestManagerTreeNotFound(t *testing.T) {
	m := NewManager()

	_, err := m.AddMessage("c-missing", msg("a", "x"), "")
	assert.True(t, errors.Is(err, ErrTreeNotFound))

	_, err = m.GetConversationPath("c-missing", "n-1")
	assert.True(t, errors.Is(err, ErrTreeNotFound))

	err = m.SetCurrentBranch("c-missing", "n-1")
	assert.True(t, errors.Is(err, ErrTreeNotFound))

	_, err = m.GetSiblings("c-missing", "n-1")
	assert.True(t, errors.Is(err, ErrTreeNotFound))

	err = m.DeleteTree("c-missing")
	assert.True(t, errors.Is(err, ErrTreeNotFound))

	_, ok := m.GetTree("c-missing")
	assert.False(t, ok)

	current := m.GetCurrentConversation("c-missing")
	assert.NotNil(t, current)
	assert.Empty(t, current)
}

func TestManagerNodeNotFound(t *testing.T) {
	m := NewManager()
	tree, err := m.CreateTree(testSetup())
	require.NoError(t, err)

	_, err = m.GetConversationPath(tree.ID, "n-missing")
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	assert.True(t, IsNotFound(err))

	err = m.SetCurrentBranch(tree.ID, "n-missing")
	assert.True(t, errors.Is(err, ErrNodeNotFound))

	_, err = m.BranchFromNode(tree.ID, "n-missing", msg("a", "x"))
	assert.True(t, errors.Is(err, ErrNodeNotFound))

	assert.Empty(t, m.GetCurrentConversation(tree.ID))
}

func TestBranchFromNodeCreatesAlternative(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	n1, _ := m.AddMessage(tree.ID, msg("a-alice", "one"), "")
	n2, _ := m.AddMessage(tree.ID, msg("a-bob", "two"), n1.ID)

	alt, err := m.BranchFromNode(tree.ID, n1.ID, msg("a-bob", "two, but nicer"))
	require.NoError(t, err)

	snapshot, _ := m.GetTree(tree.ID)
	assert.Equal(t, []string{n2.ID, alt.ID}, snapshot.Nodes[n1.ID].Children)
	assert.Equal(t, alt.ID, snapshot.CurrentBranch)

	siblings, err := m.GetSiblings(tree.ID, n2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{alt.ID}, siblings)

	siblings, err = m.GetSiblings(tree.ID, n1.ID)
	require.NoError(t, err)
	assert.Empty(t, siblings)
}

func TestMultipleRoots(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	r1, _ := m.AddMessage(tree.ID, msg("a-alice", "first opening"), "")
	r2, _ := m.AddMessage(tree.ID, msg("a-alice", "second opening"), "")

	snapshot, _ := m.GetTree(tree.ID)
	assert.Equal(t, []string{r1.ID, r2.ID}, snapshot.RootNodes)

	siblings, err := m.GetSiblings(tree.ID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID}, siblings)
}

func TestSnapshotsDoNotAliasRegistry(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	n1, _ := m.AddMessage(tree.ID, msg("a-alice", "one"), "")

	snapshot, _ := m.GetTree(tree.ID)
	snapshot.Nodes[n1.ID].Children = append(snapshot.Nodes[n1.ID].Children, "n-bogus")
	snapshot.CurrentBranch = "n-bogus"
	delete(snapshot.Nodes, n1.ID)

	n1.Children = append(n1.Children, "n-bogus")

	again, _ := m.GetTree(tree.ID)
	require.Contains(t, again.Nodes, n1.ID)
	assert.Empty(t, again.Nodes[n1.ID].Children)
	assert.Equal(t, n1.ID, again.CurrentBranch)
}

func TestLookupsAreIdempotent(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	n1, _ := m.AddMessage(tree.ID, msg("a-alice", "one"), "")
	_, _ = m.AddMessage(tree.ID, msg("a-bob", "two"), n1.ID)

	first, _ := m.GetTree(tree.ID)
	second, _ := m.GetTree(tree.ID)
	assert.Equal(t, first, second)

	all1 := m.GetAllTrees()
	all2 := m.GetAllTrees()
	assert.Equal(t, all1, all2)
	assert.Len(t, all1, 1)
	assert.Equal(t, first, all1[tree.ID])
}

func TestDeleteTree(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	require.NoError(t, m.DeleteTree(tree.ID))
	_, ok := m.GetTree(tree.ID)
	assert.False(t, ok)
	assert.Empty(t, m.GetAllTrees())
}

func TestEventSinkReceivesCommittedMutations(t *testing.T) {
	var mu sync.Mutex
	var events []TreeEvent
	sink := EventSinkFunc(func(e TreeEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	m := NewManager(WithEventSinks(sink))
	tree, _ := m.CreateTree(testSetup())
	n1, _ := m.AddMessage(tree.ID, msg("a-alice", "one"), "")
	_, err := m.AddMessage(tree.ID, msg("a-bob", "lost"), "n-missing")
	require.Error(t, err)
	require.NoError(t, m.SetCurrentBranch(tree.ID, n1.ID))
	require.NoError(t, m.DeleteTree(tree.ID))

	require.Len(t, events, 4)
	assert.Equal(t, EventTreeCreated, events[0].Type)
	assert.Equal(t, EventNodeAdded, events[1].Type)
	assert.Equal(t, n1.ID, events[1].NodeID)
	require.NotNil(t, events[1].Node)
	assert.Equal(t, "one", events[1].Node.Message.Text)
	assert.Equal(t, EventBranchSwitched, events[2].Type)
	assert.Equal(t, EventTreeDeleted, events[3].Type)
}

func TestIDGeneratorFailure(t *testing.T) {
	boom := fmt.Errorf("entropy exhausted")
	m := NewManager(WithIDGenerator(func(kind ids.Kind) (string, error) {
		return "", boom
	}))
	_, err := m.CreateTree(testSetup())
	assert.ErrorIs(t, err, boom)
}

func TestConcurrentSiblingInsertion(t *testing.T) {
	m := NewManager()
	tree, _ := m.CreateTree(testSetup())
	parent, err := m.AddMessage(tree.ID, msg("a-alice", "root"), "")
	require.NoError(t, err)

	const writers = 64
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			_, err := m.AddMessage(tree.ID, msg("a-bob", fmt.Sprintf("reply %d", i)), parent.ID)
			return err
		})
		g.Go(func() error {
			_, err := m.GetConversationPath(tree.ID, parent.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	snapshot, _ := m.GetTree(tree.ID)
	assert.Len(t, snapshot.Nodes[parent.ID].Children, writers)
	assert.Len(t, snapshot.Nodes, writers+1)
	assertTreeInvariants(t, snapshot)
}

func TestConcurrentWritesAcrossTrees(t *testing.T) {
	m := NewManager()
	const trees = 8
	const perTree = 25

	treeIDs := make([]string, trees)
	for i := range treeIDs {
		tree, err := m.CreateTree(testSetup())
		require.NoError(t, err)
		treeIDs[i] = tree.ID
	}

	var g errgroup.Group
	for _, id := range treeIDs {
		id := id
		g.Go(func() error {
			parent := ""
			for j := 0; j < perTree; j++ {
				n, err := m.AddMessage(id, msg("a-alice", fmt.Sprintf("turn %d", j)), parent)
				if err != nil {
					return err
				}
				parent = n.ID
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range treeIDs {
		assert.Len(t, m.GetCurrentConversation(id), perTree)
	}
}

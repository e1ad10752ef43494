package container

// ListNode is embedded by value in arena-owned entities (links, neighbors,
// tc nodes...) so that list membership costs no separate allocation and
// supports O(1) removal during iteration.
type ListNode[T any] struct {
	prev, next *ListNode[T]
	owner      T
}

// List is a doubly-linked intrusive list; head and tail are nil when the
// list is empty (there is no sentinel node).
type List[T any] struct {
	head, tail *ListNode[T]
	length     int
}

// PushBack appends node, which must embed its owner value in Owner().
func (l *List[T]) PushBack(node *ListNode[T], owner T) {
	node.owner = owner
	node.prev = l.tail
	node.next = nil
	if l.tail != nil {
		l.tail.next = node
	} else {
		l.head = node
	}
	l.tail = node
	l.length++
}

// Remove detaches node from the list; safe to call during a Walk.
func (l *List[T]) Remove(node *ListNode[T]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else if l.head == node {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else if l.tail == node {
		l.tail = node.prev
	}
	node.prev, node.next = nil, nil
	l.length--
}

func (l *List[T]) Len() int { return l.length }

// Walk visits owners front-to-back. fn may remove the current node via
// List.Remove without corrupting the walk, because the next pointer is
// captured before fn runs. Removing the node after the current one from
// inside fn ends the walk after that removed node is still visited.
func (l *List[T]) Walk(fn func(owner T)) {
	for n := l.head; n != nil; {
		next := n.next
		fn(n.owner)
		n = next
	}
}

func (n *ListNode[T]) Owner() T { return n.owner }

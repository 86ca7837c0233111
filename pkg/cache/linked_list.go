package cache

// linkedListNode is an element of linkedList. The zero value is a detached node.
type linkedListNode[V any] struct {
	next, prev *linkedListNode[V]
	list       *linkedList[V] // Owning list; nil once removed.
	Value      V
}

// Next returns the next node in the list or nil at the back.
func (n *linkedListNode[V]) Next() *linkedListNode[V] {
	if n.list == nil || n.next == &n.list.root {
		return nil
	}
	return n.next
}

// Prev returns the previous node in the list or nil at the front.
func (n *linkedListNode[V]) Prev() *linkedListNode[V] {
	if n.list == nil || n.prev == &n.list.root {
		return nil
	}
	return n.prev
}

// linkedList is a doubly linked list built around a sentinel root node, so inserts and removals never special-case
// the head or the tail. The zero value is an empty list ready to use.
type linkedList[V any] struct {
	root linkedListNode[V] // root.next is the front, root.prev is the back.
	size int
}

// lazyInit links the sentinel to itself on first use.
func (l *linkedList[V]) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// Len returns the number of elements in the list.
func (l *linkedList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *linkedList[V]) Front() *linkedListNode[V] {
	if l.size == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last node of the list or nil if the list is empty.
func (l *linkedList[V]) Back() *linkedListNode[V] {
	if l.size == 0 {
		return nil
	}
	return l.root.prev
}

// insertAfter links `n` right after `at` and returns it.
func (l *linkedList[V]) insertAfter(n, at *linkedListNode[V]) *linkedListNode[V] {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.list = l
	l.size++
	return n
}

// Remove unlinks `n` from the list. Removing a node of another list, or an already removed node, is a no-op.
func (l *linkedList[V]) Remove(n *linkedListNode[V]) {
	if n.list != l {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev, n.list = nil, nil, nil
	l.size--
}

// PushFront adds a new value to the front of the list.
func (l *linkedList[V]) PushFront(v V) *linkedListNode[V] {
	l.lazyInit()
	return l.insertAfter(&linkedListNode[V]{Value: v}, &l.root)
}

// PushBack adds a new value to the back of the list.
func (l *linkedList[V]) PushBack(v V) *linkedListNode[V] {
	l.lazyInit()
	return l.insertAfter(&linkedListNode[V]{Value: v}, l.root.prev)
}

package tlv

import "fmt"

// Descriptor names one registered user type: the wire tag it encodes as,
// and a human-readable name used only for the registry's own
// out-of-band serialization (negotiation/debugging), never on the
// application wire path.
type Descriptor struct {
	Tag  Tag
	Name string
}

// Registry maps user type ids (>= FirstUserTag) to descriptors.
// Producer and consumer must agree on ids; Registry itself can be
// serialized so a peer can learn (or validate) that agreement without
// a side channel outside the protocol.
type Registry struct {
	byTag map[Tag]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[Tag]Descriptor)}
}

// Register adds a user type. It panics on a tag below FirstUserTag or a
// tag collision, since both indicate a programming error discovered at
// process startup, not a runtime condition to recover from.
func (r *Registry) Register(tag Tag, name string) {
	if tag < FirstUserTag {
		panic(fmt.Sprintf("tlv: cannot register reserved tag %d", tag))
	}
	if _, exists := r.byTag[tag]; exists {
		panic(fmt.Sprintf("tlv: tag %d already registered", tag))
	}
	r.byTag[tag] = Descriptor{Tag: tag, Name: name}
}

// Lookup returns the descriptor for tag, if registered.
func (r *Registry) Lookup(tag Tag) (Descriptor, bool) {
	d, ok := r.byTag[tag]
	return d, ok
}

// Encode serializes the registry itself as a tagged list of
// (tag, name) pairs, so a peer can negotiate or validate agreement on
// user type ids out of band.
func (r *Registry) Encode() []byte {
	enc := NewEncoder(nil)
	tags := make([]Tag, 0, len(r.byTag))
	for t := range r.byTag {
		tags = append(tags, t)
	}
	enc.EncodeList(len(tags), func(i int) error {
		d := r.byTag[tags[i]]
		enc.EncodeUint(uint64(d.Tag))
		return enc.EncodeString(d.Name)
	})
	return enc.Bytes()
}

// DecodeRegistry parses a registry previously produced by Encode.
func DecodeRegistry(data []byte) (*Registry, error) {
	dec := NewDecoder(data, nil)
	r := NewRegistry()
	err := dec.DecodeList(func(i int) error {
		tagVal, err := dec.DecodeUint()
		if err != nil {
			return err
		}
		name, err := dec.DecodeString()
		if err != nil {
			return err
		}
		r.byTag[Tag(tagVal)] = Descriptor{Tag: Tag(tagVal), Name: name}
		return nil
	})
	return r, err
}

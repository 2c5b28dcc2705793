package services

// parentRef names the row a child document hangs off.
type parentRef struct {
	collection string
	field      string
	// anyUser lets every signed-in user attach children (reviews).
	anyUser bool
}

type childRef struct {
	collection string
	field      string
}

// policy describes how one collection is stored and who may touch it.
type policy struct {
	// ownerField is stamped with the caller id on insert and cannot be patched.
	ownerField string
	// private collections are only readable by their owner.
	private  bool
	parent   *parentRef
	children []childRef
	// counters may be incremented by anyone, signed in or not.
	counters []string
	// openFields may be patched by any signed-in user.
	openFields []string
	// lockField freezes a row once the stored value is true.
	lockField string
	noDelete  bool
}

var policies = map[string]policy{
	"mcards": {
		ownerField: "user_id",
		children: []childRef{
			{collection: "mcard_statuses", field: "mcard_id"},
			{collection: "mcard_products", field: "mcard_id"},
			{collection: "mcard_reviews", field: "mcard_id"},
		},
		counters: []string{"view_count"},
	},
	"mcard_statuses": {parent: &parentRef{collection: "mcards", field: "mcard_id"}},
	"mcard_products": {parent: &parentRef{collection: "mcards", field: "mcard_id"}},
	"mcard_reviews":  {parent: &parentRef{collection: "mcards", field: "mcard_id", anyUser: true}},
	"invoices": {
		ownerField: "user_id",
		private:    true,
		lockField:  "is_validated",
	},
	"quotes": {
		ownerField: "user_id",
		private:    true,
		children:   []childRef{{collection: "quote_items", field: "quote_id"}},
	},
	"quote_items": {
		private: true,
		parent:  &parentRef{collection: "quotes", field: "quote_id"},
	},
	"reported_cards": {
		ownerField: "reporter_id",
		openFields: []string{"status"},
		noDelete:   true,
	},
	"user_cards": {
		ownerField: "user_id",
		private:    true,
	},
}

func lookupPolicy(collection string) (policy, bool) {
	p, ok := policies[collection]
	return p, ok
}

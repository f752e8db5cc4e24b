package mempool

// Strategy selects which free range a Pool carves an allocation out of
type Strategy uint32

const (
	// StrategyFirstFit takes the lowest-addressed free range that can hold the aligned request.
	// This is the default, and it tends to pack live allocations toward the start of the region.
	StrategyFirstFit Strategy = iota
	// StrategyBestFit takes the smallest free range that can hold the aligned request, with ties
	// going to the lowest address. It walks the whole free list on every allocation and leaves
	// large ranges intact for longer, which changes the fragmentation pattern of the region.
	StrategyBestFit
)

var strategyMapping = map[Strategy]string{
	StrategyFirstFit: "StrategyFirstFit",
	StrategyBestFit:  "StrategyBestFit",
}

func (s Strategy) String() string {
	return strategyMapping[s]
}

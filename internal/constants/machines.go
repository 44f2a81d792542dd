package constants

// Machine type names as they appear in operation templates and operator
// profiles. Names inside one group are treated as the same capability when
// checking assignment compatibility.
var MachineSynonyms = [][]string{
	{"overlock", "serger", "overlocker"},
	{"flatlock", "coverstitch", "cover_stitch"},
	{"single_needle", "lockstitch", "plain_machine"},
	{"double_needle", "twin_needle"},
	{"bartack", "bartack_machine"},
	{"buttonhole", "button_hole"},
	{"button_attach", "button_stitch"},
	{"feed_of_arm", "feed_off_arm"},
	{"kansai", "kansai_special"},
}

// MultiMachine is the universal capability: an operator configured with it
// may take work on any machine type.
const MultiMachine = "multi"

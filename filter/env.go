package filter

/*
Env is the environment of the accept_filter expression. Once configured filters are in use, fields should not be
renamed, otherwise existing rules will not compile any more.
*/
type Env struct {
	Room   string
	Author string
	Body   string
	Length int // number of runes in Body
}

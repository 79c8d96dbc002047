package internal

type Data interface {
	DataType() string
}

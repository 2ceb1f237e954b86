package chnsenticorp

import "context"

import "github.com/pkg/errors"

import "github.com/neurlang/finetune/datasets"

var train = []datasets.Sample{
	{Text: "房间很干净，服务员态度也很好，下次还会再来。", Label: 1},
	{Text: "酒店位置太偏僻了，打车都很困难，不推荐。", Label: 0},
	{Text: "这本书写得非常精彩，一口气就读完了。", Label: 1},
	{Text: "快递太慢了，包装也破了，很失望。", Label: 0},
	{Text: "性价比很高，电池续航也不错。", Label: 1},
	{Text: "屏幕有坏点，客服一直推脱责任。", Label: 0},
	{Text: "早餐种类丰富，味道也好。", Label: 1},
	{Text: "隔音效果很差，晚上根本睡不着。", Label: 0},
	{Text: "作者的观点很有启发，值得推荐给朋友。", Label: 1},
	{Text: "内容空洞，翻了几页就不想看了。", Label: 0},
	{Text: "键盘手感很好，运行速度也快。", Label: 1},
	{Text: "用了两天就死机，质量太差。", Label: 0},
	{Text: "前台办理入住很快，环境安静舒适。", Label: 1},
	{Text: "卫生间有异味，床单也不干净。", Label: 0},
	{Text: "印刷清晰，纸张质量很好。", Label: 1},
	{Text: "书中错别字太多，编辑太不用心。", Label: 0},
	{Text: "外观漂亮，做工精细，很满意。", Label: 1},
	{Text: "发热严重，风扇噪音很大。", Label: 0},
	{Text: "交通方便，离地铁站很近。", Label: 1},
	{Text: "价格太贵，设施却很陈旧。", Label: 0},
	{Text: "好", Label: 1},
	{Text: "坏", Label: 0},
	{Text: "不错，很喜欢。", Label: 1},
	{Text: "差，不会再买了。", Label: 0},
}

var validation = []datasets.Sample{
	{Text: "服务热情周到，房间宽敞明亮。", Label: 1},
	{Text: "空调坏了也没人来修，太糟糕了。", Label: 0},
	{Text: "故事情节引人入胜，非常喜欢。", Label: 1},
	{Text: "电池不耐用，充一次电只能用半天。", Label: 0},
	{Text: "一般", Label: 1},
	{Text: "差", Label: 0},
}

var test = []datasets.Sample{
	{Text: "环境优美，服务一流。", Label: 1},
	{Text: "房间很小，窗户还打不开。", Label: 0},
	{Text: "讲解深入浅出，受益匪浅。", Label: 1},
	{Text: "系统卡顿，售后服务也很差。", Label: 0},
}

// Dataslice is the built-in corpus as a datasets.Source.
type Dataslice struct{}

// Get returns the n-th sample of a split.
func (Dataslice) Get(split datasets.Split, n int) datasets.Sample {
	return samples(split)[n]
}

// Len returns the size of a split, 0 for unknown splits.
func (Dataslice) Len(split datasets.Split) int {
	return len(samples(split))
}

func (d Dataslice) Retrieve(ctx context.Context, split datasets.Split) ([]datasets.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := samples(split)
	if s == nil {
		return nil, errors.Errorf("unknown split %q", split)
	}
	return append([]datasets.Sample(nil), s...), nil
}

func (Dataslice) String() string {
	return "builtin:chnsenticorp"
}

func samples(split datasets.Split) []datasets.Sample {
	switch split {
	case datasets.Train:
		return train
	case datasets.Validation:
		return validation
	case datasets.Test:
		return test
	default:
		return nil
	}
}
